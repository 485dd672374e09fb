package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/glennswest/fattree/pkg/fabric"
)

func TestMemoryPortsFollowLinkOrder(t *testing.T) {
	ctx := context.Background()
	d := NewMemory(nil, zap.NewNop().Sugar())

	require.NoError(t, d.CreateSwitch(ctx, "1001"))
	require.NoError(t, d.CreateSwitch(ctx, "2001"))
	require.NoError(t, d.CreateSwitch(ctx, "3001"))
	require.NoError(t, d.CreateHost(ctx, "h001", fabric.HostOpts{CPUShare: 0.5}))

	p, err := d.CreateLink(ctx, fabric.LinkSpec{A: "1001", B: "2001", Bandwidth: 20})
	require.NoError(t, err)
	assert.Equal(t, fabric.LinkPorts{A: 1, B: 1}, p)

	p, err = d.CreateLink(ctx, fabric.LinkSpec{A: "2001", B: "3001", Bandwidth: 10})
	require.NoError(t, err)
	assert.Equal(t, fabric.LinkPorts{A: 2, B: 1}, p)

	p, err = d.CreateLink(ctx, fabric.LinkSpec{A: "3001", B: "h001", Bandwidth: 5})
	require.NoError(t, err)
	assert.Equal(t, fabric.LinkPorts{A: 2, B: 0}, p)

	n, err := d.Node("2001")
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "1001", 2: "3001"}, n.Ports)

	h, err := d.Node("h001")
	require.NoError(t, err)
	assert.Equal(t, fabric.KindHost, h.Kind)
	assert.InDelta(t, 0.5, h.CPU, 1e-9)

	assert.Len(t, d.Links(), 3)
}

func TestMemoryErrors(t *testing.T) {
	ctx := context.Background()
	d := NewMemory(nil, zap.NewNop().Sugar())
	require.NoError(t, d.CreateSwitch(ctx, "3001"))

	assert.Error(t, d.CreateSwitch(ctx, "3001"), "duplicate switch")
	_, err := d.CreateLink(ctx, fabric.LinkSpec{A: "3001", B: "h009"})
	assert.Error(t, err, "unknown endpoint")
	assert.Error(t, d.SetIP(ctx, "3001", "10.1.0.1/8"), "address on a switch")
	_, err = d.Node("h009")
	assert.Error(t, err)
}

func TestMemoryLifecycle(t *testing.T) {
	ctx := context.Background()
	d := NewMemory(nil, zap.NewNop().Sugar())
	require.NoError(t, d.CreateHost(ctx, "h001", fabric.HostOpts{}))
	require.NoError(t, d.SetIP(ctx, "h001", "10.1.0.1/8"))

	require.NoError(t, d.Start(ctx))
	assert.True(t, d.Running())
	assert.Error(t, d.Start(ctx), "double start")

	h, err := d.Node("h001")
	require.NoError(t, err)
	assert.Equal(t, "10.1.0.1/8", h.Address)

	require.NoError(t, d.Stop(ctx))
	assert.False(t, d.Running())
	assert.Zero(t, d.Registry().NodeCount())
	require.NoError(t, d.Stop(ctx), "second stop is a no-op")
}

func TestMemoryCapabilities(t *testing.T) {
	d := NewMemory(nil, zap.NewNop().Sugar())
	assert.Equal(t, "memory", d.Name())
	assert.Equal(t, fabric.DriverCapabilities{}, d.Capabilities())

	var _ fabric.Driver = d
}
