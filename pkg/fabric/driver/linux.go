//go:build linux

package driver

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/glennswest/fattree/pkg/fabric"
	"github.com/glennswest/fattree/pkg/ofctl"
)

// Linux implements fabric.Driver on the local kernel: switches are Open
// vSwitch bridges, hosts are named network namespaces and links are veth
// pairs shaped with a token bucket filter. Requires root and a running
// ovs-vswitchd.
type Linux struct {
	cfg    ofctl.Config
	runner ofctl.Runner
	reg    *fabric.Registry
	log    *zap.SugaredLogger

	mu      sync.Mutex
	started bool
	veths   []string // root-namespace end of every switch-to-switch link
}

// NewLinux returns a Driver backed by netlink and the OVS tools. A nil
// runner means ofctl.ExecRunner.
func NewLinux(cfg ofctl.Config, runner ofctl.Runner, log *zap.SugaredLogger) *Linux {
	if runner == nil {
		runner = ofctl.ExecRunner{}
	}
	return &Linux{
		cfg:    cfg.WithDefaults(),
		runner: runner,
		reg:    fabric.NewRegistry(),
		log:    log.Named("linux-driver"),
	}
}

// ifName is the interface on node's side of the link attached at port.
func ifName(node string, port int) string {
	return node + "-eth" + strconv.Itoa(port)
}

// ─── Node Operations ─────────────────────────────────────────────────────────

// CreateSwitch adds a bridge that only forwards what the controller installs.
func (d *Linux) CreateSwitch(ctx context.Context, name string) error {
	if err := d.reg.AddNode(fabric.NodeInfo{Name: name, Kind: fabric.KindSwitch}); err != nil {
		return fmt.Errorf("creating switch: %w", err)
	}
	err := d.vsctl(ctx, "--may-exist", "add-br", name,
		"--", "set", "bridge", name, "protocols="+d.cfg.Protocol, "fail-mode=secure")
	if err != nil {
		d.reg.RemoveNode(name)
		return err
	}
	d.log.Infow("switch created", "name", name)
	return nil
}

// CreateHost creates a named network namespace with loopback up. The CPU
// share is recorded but not enforced.
func (d *Linux) CreateHost(ctx context.Context, name string, opts fabric.HostOpts) error {
	if err := d.reg.AddNode(fabric.NodeInfo{Name: name, Kind: fabric.KindHost, CPU: opts.CPUShare}); err != nil {
		return fmt.Errorf("creating host: %w", err)
	}
	if err := d.newNamespace(name); err != nil {
		d.reg.RemoveNode(name)
		return err
	}
	d.log.Infow("host created", "name", name, "cpu", opts.CPUShare)
	return nil
}

// newNamespace creates ns and brings its loopback up. A namespace of the same
// name left by an earlier run that was not torn down is removed first.
// NewNamed switches the calling thread into the new namespace, so the thread
// is pinned and moved back before returning.
func (d *Linux) newNamespace(name string) error {
	if stale, err := netns.GetFromName(name); err == nil {
		stale.Close()
		if err := netns.DeleteNamed(name); err != nil {
			return fmt.Errorf("netns remove stale %s: %w", name, err)
		}
		d.log.Warnw("removed stale host namespace", "name", name)
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig, err := netns.Get()
	if err != nil {
		return fmt.Errorf("netns get current: %w", err)
	}
	defer orig.Close()
	defer netns.Set(orig)

	ns, err := netns.NewNamed(name)
	if err != nil {
		return fmt.Errorf("netns create %s: %w", name, err)
	}
	defer ns.Close()

	lo, err := netlink.LinkByName("lo")
	if err != nil {
		return fmt.Errorf("netlink lookup lo in %s: %w", name, err)
	}
	if err := netlink.LinkSetUp(lo); err != nil {
		return fmt.Errorf("netlink lo up in %s: %w", name, err)
	}
	return nil
}

// ─── Link Operations ─────────────────────────────────────────────────────────

// CreateLink creates a veth pair. A switch end is added to its bridge with
// the OpenFlow port number pinned to the registry's allocation; a host end
// is moved into the host's namespace.
func (d *Linux) CreateLink(ctx context.Context, spec fabric.LinkSpec) (fabric.LinkPorts, error) {
	a, err := d.reg.GetNode(spec.A)
	if err != nil {
		return fabric.LinkPorts{}, err
	}
	b, err := d.reg.GetNode(spec.B)
	if err != nil {
		return fabric.LinkPorts{}, err
	}
	ports, err := d.reg.Connect(spec.A, spec.B)
	if err != nil {
		return fabric.LinkPorts{}, err
	}

	aIf, bIf := ifName(spec.A, ports.A), ifName(spec.B, ports.B)
	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: aIf},
		PeerName:  bIf,
	}
	if spec.MaxQueueSize > 0 {
		veth.LinkAttrs.TxQLen = spec.MaxQueueSize
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return fabric.LinkPorts{}, fmt.Errorf("netlink veth add %s/%s: %w", aIf, bIf, err)
	}

	for _, end := range []struct {
		node  fabric.NodeInfo
		iface string
		port  int
	}{{a, aIf, ports.A}, {b, bIf, ports.B}} {
		if err := d.attachEnd(ctx, end.node, end.iface, end.port, spec); err != nil {
			if link, lerr := netlink.LinkByName(aIf); lerr == nil {
				netlink.LinkDel(link)
			}
			return fabric.LinkPorts{}, err
		}
	}

	if a.Kind == fabric.KindSwitch && b.Kind == fabric.KindSwitch {
		d.mu.Lock()
		d.veths = append(d.veths, aIf)
		d.mu.Unlock()
	}
	d.log.Infow("link created", "a", aIf, "b", bIf, "bandwidth", spec.Bandwidth)
	return ports, nil
}

func (d *Linux) attachEnd(ctx context.Context, node fabric.NodeInfo, iface string, port int, spec fabric.LinkSpec) error {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("netlink lookup %s: %w", iface, err)
	}

	if node.Kind == fabric.KindSwitch {
		if err := shape(nil, link, spec); err != nil {
			return err
		}
		if err := netlink.LinkSetUp(link); err != nil {
			return fmt.Errorf("netlink link up %s: %w", iface, err)
		}
		return d.vsctl(ctx, "add-port", node.Name, iface,
			"--", "set", "Interface", iface, "ofport_request="+strconv.Itoa(port))
	}

	ns, err := netns.GetFromName(node.Name)
	if err != nil {
		return fmt.Errorf("netns lookup %s: %w", node.Name, err)
	}
	defer ns.Close()
	if err := netlink.LinkSetNsFd(link, int(ns)); err != nil {
		return fmt.Errorf("netlink move %s into %s: %w", iface, node.Name, err)
	}

	h, err := netlink.NewHandleAt(ns)
	if err != nil {
		return fmt.Errorf("netlink handle in %s: %w", node.Name, err)
	}
	defer h.Close()
	link, err = h.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("netlink lookup %s in %s: %w", iface, node.Name, err)
	}
	if err := shape(h, link, spec); err != nil {
		return err
	}
	if err := h.LinkSetUp(link); err != nil {
		return fmt.Errorf("netlink link up %s in %s: %w", iface, node.Name, err)
	}
	return nil
}

// shape installs a root TBF qdisc limiting link to the LinkSpec bandwidth
// (Mbit/s) with a queue of MaxQueueSize full-size frames. A nil handle means
// the current namespace.
func shape(h *netlink.Handle, link netlink.Link, spec fabric.LinkSpec) error {
	if spec.Bandwidth <= 0 {
		return nil
	}
	rate := uint64(spec.Bandwidth * 1e6 / 8) // bytes per second
	queue := spec.MaxQueueSize
	if queue <= 0 {
		queue = 1000
	}
	buffer := uint32(rate / 250)
	if buffer < 1600 {
		buffer = 1600
	}
	tbf := &netlink.Tbf{
		QdiscAttrs: netlink.QdiscAttrs{
			LinkIndex: link.Attrs().Index,
			Handle:    netlink.MakeHandle(1, 0),
			Parent:    netlink.HANDLE_ROOT,
		},
		Rate:   rate,
		Limit:  uint32(queue) * 1500,
		Buffer: buffer,
	}

	var err error
	if h == nil {
		err = netlink.QdiscReplace(tbf)
	} else {
		err = h.QdiscReplace(tbf)
	}
	if err != nil {
		return fmt.Errorf("netlink tbf on %s: %w", link.Attrs().Name, err)
	}
	return nil
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

// Start checks that every bridge answers on the pinned protocol.
func (d *Linux) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return fmt.Errorf("fabric already started")
	}
	for _, sw := range d.reg.NodesOfKind(fabric.KindSwitch) {
		if err := d.vsctl(ctx, "br-exists", sw.Name); err != nil {
			return fmt.Errorf("switch %s not ready: %w", sw.Name, err)
		}
	}
	d.started = true
	d.log.Infow("fabric started", "nodes", d.reg.NodeCount())
	return nil
}

// Stop removes every bridge, namespace and inter-switch veth the driver
// created. Errors are collected and returned together.
func (d *Linux) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs error
	for _, n := range d.reg.ListNodes() {
		switch n.Kind {
		case fabric.KindSwitch:
			errs = multierr.Append(errs, d.vsctl(ctx, "--if-exists", "del-br", n.Name))
		case fabric.KindHost:
			if err := netns.DeleteNamed(n.Name); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("netns delete %s: %w", n.Name, err))
			}
		}
		d.reg.RemoveNode(n.Name)
	}
	// Deleting one end removes the peer as well.
	for _, name := range d.veths {
		link, err := netlink.LinkByName(name)
		if err != nil {
			continue
		}
		if err := netlink.LinkDel(link); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("netlink del %s: %w", name, err))
		}
	}
	d.veths = nil
	d.started = false
	d.log.Infow("fabric stopped", "errors", len(multierr.Errors(errs)))
	return errs
}

// ─── Host Addressing ─────────────────────────────────────────────────────────

// SetIP assigns cidr to the host's single interface inside its namespace.
func (d *Linux) SetIP(ctx context.Context, host, cidr string) error {
	n, err := d.reg.GetNode(host)
	if err != nil {
		return err
	}
	if n.Kind != fabric.KindHost {
		return fmt.Errorf("node %q is a %s, not a host", host, n.Kind)
	}
	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("parsing address %s: %w", cidr, err)
	}

	ns, err := netns.GetFromName(host)
	if err != nil {
		return fmt.Errorf("netns lookup %s: %w", host, err)
	}
	defer ns.Close()
	h, err := netlink.NewHandleAt(ns)
	if err != nil {
		return fmt.Errorf("netlink handle in %s: %w", host, err)
	}
	defer h.Close()

	iface := ifName(host, 0)
	link, err := h.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("netlink lookup %s in %s: %w", iface, host, err)
	}
	if err := h.AddrReplace(link, addr); err != nil {
		return fmt.Errorf("netlink addr add %s on %s: %w", cidr, iface, err)
	}
	if err := d.reg.SetAddress(host, cidr); err != nil {
		return err
	}
	d.log.Infow("address set", "host", host, "address", cidr)
	return nil
}

// ─── Introspection ───────────────────────────────────────────────────────────

func (d *Linux) Node(name string) (fabric.NodeInfo, error) {
	return d.reg.GetNode(name)
}

func (d *Linux) Name() string { return "linux" }

func (d *Linux) Capabilities() fabric.DriverCapabilities {
	return fabric.DriverCapabilities{
		Shaping:    true,
		Namespaces: true,
		OpenFlow:   true,
	}
}

func (d *Linux) vsctl(ctx context.Context, args ...string) error {
	out, err := d.runner.Run(ctx, d.cfg.VsctlPath, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", d.cfg.VsctlPath, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Ensure Linux implements Driver at compile time.
var _ fabric.Driver = (*Linux)(nil)
