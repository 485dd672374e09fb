// Package driver holds the fabric.Driver implementations.
package driver

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/glennswest/fattree/pkg/fabric"
)

// Memory implements fabric.Driver without touching the host. Nodes and ports
// live in a fabric.Registry, so dry runs see the same port numbering a real
// fabric would.
type Memory struct {
	reg *fabric.Registry
	log *zap.SugaredLogger

	mu      sync.Mutex
	started bool
	links   []fabric.LinkSpec
}

// NewMemory returns an in-memory driver backed by reg. A nil reg gets a
// fresh registry.
func NewMemory(reg *fabric.Registry, log *zap.SugaredLogger) *Memory {
	if reg == nil {
		reg = fabric.NewRegistry()
	}
	return &Memory{
		reg: reg,
		log: log.Named("memory-driver"),
	}
}

// Registry exposes the backing registry.
func (d *Memory) Registry() *fabric.Registry { return d.reg }

// ─── Node Operations ─────────────────────────────────────────────────────────

func (d *Memory) CreateSwitch(ctx context.Context, name string) error {
	if err := d.reg.AddNode(fabric.NodeInfo{Name: name, Kind: fabric.KindSwitch}); err != nil {
		return fmt.Errorf("creating switch: %w", err)
	}
	d.log.Debugw("switch created", "name", name)
	return nil
}

func (d *Memory) CreateHost(ctx context.Context, name string, opts fabric.HostOpts) error {
	if err := d.reg.AddNode(fabric.NodeInfo{Name: name, Kind: fabric.KindHost, CPU: opts.CPUShare}); err != nil {
		return fmt.Errorf("creating host: %w", err)
	}
	d.log.Debugw("host created", "name", name, "cpu", opts.CPUShare)
	return nil
}

// ─── Link Operations ─────────────────────────────────────────────────────────

func (d *Memory) CreateLink(ctx context.Context, spec fabric.LinkSpec) (fabric.LinkPorts, error) {
	ports, err := d.reg.Connect(spec.A, spec.B)
	if err != nil {
		return fabric.LinkPorts{}, fmt.Errorf("creating link %s-%s: %w", spec.A, spec.B, err)
	}
	d.mu.Lock()
	d.links = append(d.links, spec)
	d.mu.Unlock()
	d.log.Debugw("link created", "a", spec.A, "b", spec.B, "portA", ports.A, "portB", ports.B)
	return ports, nil
}

// Links returns the links created so far, in creation order.
func (d *Memory) Links() []fabric.LinkSpec {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]fabric.LinkSpec, len(d.links))
	copy(out, d.links)
	return out
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

func (d *Memory) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return fmt.Errorf("fabric already started")
	}
	d.started = true
	d.log.Infow("fabric started", "nodes", d.reg.NodeCount(), "links", len(d.links))
	return nil
}

// Stop forgets every node and link. Stopping a stopped fabric is a no-op.
func (d *Memory) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range d.reg.ListNodes() {
		d.reg.RemoveNode(n.Name)
	}
	d.links = nil
	if d.started {
		d.log.Infow("fabric stopped")
	}
	d.started = false
	return nil
}

// Running reports whether Start has been called without a matching Stop.
func (d *Memory) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// ─── Host Addressing ─────────────────────────────────────────────────────────

func (d *Memory) SetIP(ctx context.Context, host, cidr string) error {
	if err := d.reg.SetAddress(host, cidr); err != nil {
		return fmt.Errorf("setting address on %s: %w", host, err)
	}
	return nil
}

// ─── Introspection ───────────────────────────────────────────────────────────

func (d *Memory) Node(name string) (fabric.NodeInfo, error) {
	return d.reg.GetNode(name)
}

func (d *Memory) Name() string { return "memory" }

func (d *Memory) Capabilities() fabric.DriverCapabilities {
	return fabric.DriverCapabilities{}
}

// Ensure Memory implements Driver at compile time.
var _ fabric.Driver = (*Memory)(nil)
