//go:build linux

package driver

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/glennswest/fattree/pkg/fabric"
	"github.com/glennswest/fattree/pkg/ofctl"
)

type recordingRunner struct {
	calls []string
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
	return nil, nil
}

func TestLinuxCapabilities(t *testing.T) {
	d := NewLinux(ofctl.Config{}, &recordingRunner{}, zap.NewNop().Sugar())

	caps := d.Capabilities()
	if !caps.Shaping || !caps.Namespaces || !caps.OpenFlow {
		t.Errorf("Linux driver should support everything, got %+v", caps)
	}
	if d.Name() != "linux" {
		t.Errorf("expected name 'linux', got %q", d.Name())
	}

	// Verify it satisfies the interface
	var _ fabric.Driver = d
}

func TestLinuxCreateSwitchCommand(t *testing.T) {
	r := &recordingRunner{}
	d := NewLinux(ofctl.Config{VsctlPath: "/usr/bin/ovs-vsctl"}, r, zap.NewNop().Sugar())

	if err := d.CreateSwitch(context.Background(), "2003"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "/usr/bin/ovs-vsctl --may-exist add-br 2003 -- set bridge 2003 protocols=OpenFlow13 fail-mode=secure"
	if len(r.calls) != 1 || r.calls[0] != want {
		t.Errorf("expected %q, got %v", want, r.calls)
	}
	if n, err := d.Node("2003"); err != nil || n.Kind != fabric.KindSwitch {
		t.Errorf("switch not registered: %+v %v", n, err)
	}
}

func TestIfName(t *testing.T) {
	if got := ifName("2001", 3); got != "2001-eth3" {
		t.Errorf("expected 2001-eth3, got %q", got)
	}
	if got := ifName("h016", 0); got != "h016-eth0" {
		t.Errorf("expected h016-eth0, got %q", got)
	}
}

func TestLinuxHostNamespace(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Linux namespace test in short mode")
	}
	ctx := context.Background()
	d := NewLinux(ofctl.Config{}, &recordingRunner{}, zap.NewNop().Sugar())

	if err := d.CreateHost(ctx, "h999", fabric.HostOpts{}); err != nil {
		t.Skipf("cannot create namespaces here: %v", err)
	}
	defer d.Stop(ctx)

	n, err := d.Node("h999")
	if err != nil || n.Kind != fabric.KindHost {
		t.Errorf("host not registered: %+v %v", n, err)
	}
}

func TestLinuxHostNamespaceReplacesStale(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Linux namespace test in short mode")
	}
	ctx := context.Background()

	// The first driver exits without Stop and leaves h998 behind.
	first := NewLinux(ofctl.Config{}, &recordingRunner{}, zap.NewNop().Sugar())
	if err := first.CreateHost(ctx, "h998", fabric.HostOpts{}); err != nil {
		t.Skipf("cannot create namespaces here: %v", err)
	}

	d := NewLinux(ofctl.Config{}, &recordingRunner{}, zap.NewNop().Sugar())
	if err := d.CreateHost(ctx, "h998", fabric.HostOpts{}); err != nil {
		first.Stop(ctx)
		t.Fatalf("creating over a stale namespace: %v", err)
	}
	defer d.Stop(ctx)

	if n, err := d.Node("h998"); err != nil || n.Kind != fabric.KindHost {
		t.Errorf("host not registered: %+v %v", n, err)
	}
}
