package fabric

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/glennswest/fattree/pkg/config"
	"github.com/glennswest/fattree/pkg/fabric/ipam"
	"github.com/glennswest/fattree/pkg/fattree"
	"github.com/glennswest/fattree/pkg/flows"
)

// ErrPortMismatch is returned when the fabric numbers a link's ports
// differently from the topology's port map. Rules would forward to the wrong
// neighbours, so the deployment is aborted.
var ErrPortMismatch = errors.New("fabric port does not match topology port map")

// hostPrefixLen puts every host on one flat /8 so ARP for any destination
// leaves the host and reaches the edge switch.
const hostPrefixLen = 8

// Deployment is a fabric that has been built and programmed.
type Deployment struct {
	RunID     string
	Driver    string
	StartedAt time.Time
	Topology  *fattree.Topology
	Plan      *flows.Plan
	Report    flows.Report
}

// Manager drives a deployment: it lays the topology out on a Driver,
// addresses the hosts and installs the synthesized rules through a
// ControlPlane.
type Manager struct {
	cfg    config.Config
	driver Driver
	cp     flows.ControlPlane
	log    *zap.SugaredLogger
	state  *stateStore
	alloc  *ipam.Allocator

	mu  sync.RWMutex
	dep *Deployment
}

// NewManager returns a Manager. Nothing is created until Deploy.
func NewManager(cfg config.Config, driver Driver, cp flows.ControlPlane, log *zap.SugaredLogger) *Manager {
	return &Manager{
		cfg:    cfg,
		driver: driver,
		cp:     cp,
		log:    log.Named("fabric"),
		state:  newStateStore(cfg.StatePath),
		alloc:  ipam.NewAllocator(),
	}
}

// Deploy builds the fat-tree and its rule plan, creates it on the driver,
// starts it, assigns host addresses and installs the plan. Rule installation failures are
// reported in Deployment.Report and do not fail the deploy.
//
// The caller owns Teardown, including after a failed Deploy.
func (m *Manager) Deploy(ctx context.Context) (*Deployment, error) {
	p, err := fattree.ComputeParameters(m.cfg.Pods, m.cfg.Density)
	if err != nil {
		return nil, err
	}
	topo, err := fattree.Build(p, m.cfg.Bandwidth)
	if err != nil {
		return nil, err
	}
	// Rules are derived before the fabric exists so an unsupported k never
	// leaves bridges or namespaces behind.
	plan, err := flows.Synthesize(topo)
	if err != nil {
		return nil, fmt.Errorf("synthesizing rules: %w", err)
	}

	dep := &Deployment{
		RunID:     uuid.New().String(),
		Driver:    m.driver.Name(),
		StartedAt: time.Now(),
		Topology:  topo,
		Plan:      plan,
	}
	log := m.log.With("run", dep.RunID)
	log.Infow("deploying fat-tree",
		"pods", p.Pods,
		"density", p.Density,
		"switches", len(topo.Switches()),
		"hosts", len(topo.Hosts),
		"links", len(topo.Links),
		"driver", dep.Driver,
	)

	if err := m.createNodes(ctx, topo); err != nil {
		return nil, err
	}
	if err := m.createLinks(ctx, topo); err != nil {
		return nil, err
	}
	if err := m.driver.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting fabric: %w", err)
	}
	if err := m.assignAddresses(ctx, topo); err != nil {
		return nil, err
	}

	rep, err := flows.NewInstaller(m.cp, log).Install(ctx, plan)
	dep.Report = rep
	if err != nil {
		return nil, fmt.Errorf("installing rules: %w", err)
	}

	m.mu.Lock()
	m.dep = dep
	m.mu.Unlock()

	m.state.set(m.record(dep))
	if err := m.state.save(); err != nil {
		log.Warnw("failed to save deployment record", "error", err)
	}

	log.Infow("deployment ready", "flows", rep.Flows, "groups", rep.Groups, "failures", len(rep.Failures))
	return dep, nil
}

// Teardown stops the fabric and marks the deployment record stopped.
func (m *Manager) Teardown(ctx context.Context) error {
	if err := m.driver.Stop(ctx); err != nil {
		return fmt.Errorf("stopping fabric: %w", err)
	}

	m.mu.Lock()
	m.dep = nil
	m.mu.Unlock()
	m.releaseAddresses()

	m.state.markStopped(time.Now())
	if err := m.state.save(); err != nil {
		m.log.Warnw("failed to save deployment record", "error", err)
	}
	m.log.Infow("fabric torn down")
	return nil
}

// Current returns the live deployment, or nil.
func (m *Manager) Current() *Deployment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dep
}

// GetAllocations returns host name -> address for every assigned host.
func (m *Manager) GetAllocations() map[string]string {
	return m.alloc.AllAllocations()
}

// EdgeAllocations returns the reservations in one edge switch's pool.
func (m *Manager) EdgeAllocations(edge string) (map[string]string, bool) {
	return m.alloc.PoolAllocations(edge)
}

// LookupHost resolves a host address to the host holding it and the edge
// pool it was reserved in.
func (m *Manager) LookupHost(ip netip.Addr) (fattree.HostID, string, bool) {
	dep := m.Current()
	if dep == nil {
		return fattree.HostID{}, "", false
	}
	pool, ok := m.alloc.PoolForIP(ip)
	if !ok {
		return fattree.HostID{}, "", false
	}
	h, ok := dep.Topology.HostByIP(ip)
	if !ok {
		return fattree.HostID{}, "", false
	}
	if held, ok := m.alloc.Get(pool, h.Name()); !ok || held != ip {
		return fattree.HostID{}, "", false
	}
	return h, pool, true
}

// ─── Build Steps ─────────────────────────────────────────────────────────────

func (m *Manager) createNodes(ctx context.Context, topo *fattree.Topology) error {
	for _, sw := range topo.Switches() {
		if err := m.driver.CreateSwitch(ctx, sw.Name()); err != nil {
			return fmt.Errorf("creating switch %s: %w", sw, err)
		}
	}
	share := 1 / float64(topo.Params.HostCount)
	for _, h := range topo.Hosts {
		if err := m.driver.CreateHost(ctx, h.Name(), HostOpts{CPUShare: share}); err != nil {
			return fmt.Errorf("creating host %s: %w", h, err)
		}
	}
	return nil
}

// createLinks adds links in topology order and checks every switch port the
// driver hands back against the port map the rules are written for.
func (m *Manager) createLinks(ctx context.Context, topo *fattree.Topology) error {
	want := expectedPorts(topo)
	for _, l := range topo.Links {
		spec := LinkSpec{
			A:            l.A.Name(),
			B:            l.B.Name(),
			Bandwidth:    l.Bandwidth,
			MaxQueueSize: l.MaxQueueSize,
		}
		got, err := m.driver.CreateLink(ctx, spec)
		if err != nil {
			return fmt.Errorf("creating link %s-%s: %w", spec.A, spec.B, err)
		}
		if wa := want[spec.A][spec.B]; got.A != wa {
			return fmt.Errorf("%w: %s toward %s is port %d, want %d", ErrPortMismatch, spec.A, spec.B, got.A, wa)
		}
		if wb := want[spec.B][spec.A]; got.B != wb {
			return fmt.Errorf("%w: %s toward %s is port %d, want %d", ErrPortMismatch, spec.B, spec.A, got.B, wb)
		}
	}
	return nil
}

// expectedPorts inverts the port map to node -> peer -> port. Hosts are
// absent and so expect 0.
func expectedPorts(topo *fattree.Topology) map[string]map[string]int {
	out := make(map[string]map[string]int)
	for sw, ports := range topo.PortMap() {
		peers := make(map[string]int, len(ports))
		for port, peer := range ports {
			peers[peer.Name()] = port
		}
		out[sw.Name()] = peers
	}
	return out
}

// assignAddresses reserves every host's identity-derived address in its edge
// switch's pool and configures it on the fabric.
func (m *Manager) assignAddresses(ctx context.Context, topo *fattree.Topology) error {
	for _, e := range topo.Edge {
		subnet := netip.PrefixFrom(netip.AddrFrom4([4]byte{10, byte(e.Ordinal), 0, 0}), 24)
		if err := m.alloc.AddPool(e.Name(), subnet); err != nil {
			return err
		}
	}

	for _, h := range topo.Hosts {
		ip := h.IP()
		pool := h.EdgeSwitch().Name()
		if err := m.alloc.Reserve(pool, h.Name(), ip); err != nil {
			return fmt.Errorf("reserving address for %s: %w", h, err)
		}
		cidr := netip.PrefixFrom(ip, hostPrefixLen).String()
		if err := m.driver.SetIP(ctx, h.Name(), cidr); err != nil {
			return fmt.Errorf("configuring %s on %s: %w", cidr, h, err)
		}
		m.log.Debugw("host addressed", "host", h.Name(), "address", cidr)
	}
	return nil
}

// releaseAddresses drops every host reservation. The pools stay registered
// until the next deploy replaces them.
func (m *Manager) releaseAddresses() {
	released := 0
	for _, pool := range m.alloc.PoolNames() {
		held, _ := m.alloc.PoolAllocations(pool)
		for host := range held {
			if m.alloc.Release(pool, host) {
				released++
			}
		}
	}
	if released > 0 {
		m.log.Debugw("host addresses released", "count", released)
	}
}

func (m *Manager) record(dep *Deployment) *DeploymentRecord {
	hosts := make(map[string]string, len(dep.Topology.Hosts))
	for _, h := range dep.Topology.Hosts {
		if n, err := m.driver.Node(h.Name()); err == nil {
			hosts[h.Name()] = n.Address
		}
	}
	return &DeploymentRecord{
		RunID:     dep.RunID,
		Driver:    dep.Driver,
		StartedAt: dep.StartedAt,
		Pods:      dep.Topology.Params.Pods,
		Density:   dep.Topology.Params.Density,
		Switches:  len(dep.Topology.Switches()),
		Links:     len(dep.Topology.Links),
		Hosts:     hosts,
		Install:   dep.Report,
	}
}
