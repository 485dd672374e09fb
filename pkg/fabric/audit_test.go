package fabric_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/glennswest/fattree/pkg/config"
	"github.com/glennswest/fattree/pkg/fabric"
	"github.com/glennswest/fattree/pkg/fabric/driver"
	"github.com/glennswest/fattree/pkg/flows"
)

func TestAuditDetectsDrift(t *testing.T) {
	ctx := context.Background()
	rec := &flows.Recorder{}
	mgr, _ := newTestManager(t, config.Default(), rec)
	_, err := mgr.Deploy(ctx)
	require.NoError(t, err)

	results, err := mgr.Audit(ctx)
	require.NoError(t, err)
	require.Len(t, results, 20)
	for _, a := range results {
		assert.False(t, a.Drifted(), "switch %s", a.Switch)
	}

	rec.Forget("3001")
	results, err = mgr.Audit(ctx)
	require.NoError(t, err)
	assert.Equal(t, fabric.SwitchAudit{Switch: "3001", Expected: 6, Installed: 0}, results[0])
	assert.True(t, results[0].Drifted())
	assert.False(t, results[1].Drifted())
}

type blindControlPlane struct {
	flows.ControlPlane
}

func TestAuditNotSupported(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, config.Default(), blindControlPlane{&flows.Recorder{}})
	_, err := mgr.Deploy(ctx)
	require.NoError(t, err)

	_, err = mgr.Audit(ctx)
	assert.ErrorIs(t, err, fabric.ErrNotSupported)
}

func TestAuditWithoutDeployment(t *testing.T) {
	mgr, _ := newTestManager(t, config.Default(), &flows.Recorder{})
	_, err := mgr.Audit(context.Background())
	assert.Error(t, err)
}

func TestRunAuditorLogsDrift(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core).Sugar()
	rec := &flows.Recorder{}
	mgr := fabric.NewManager(config.Default(), driver.NewMemory(nil, log), rec, log)

	_, err := mgr.Deploy(context.Background())
	require.NoError(t, err)
	rec.Forget("2002")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.RunAuditor(ctx, fabric.AuditorOpts{Interval: 5 * time.Millisecond})
		close(done)
	}()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("drift: flow table differs from plan").Len() > 0
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	entry := logs.FilterMessage("drift: flow table differs from plan").All()[0]
	assert.Equal(t, "2002", entry.ContextMap()["switch"])
	assert.Equal(t, 1, logs.FilterMessage("flow auditor stopped").Len())
}
