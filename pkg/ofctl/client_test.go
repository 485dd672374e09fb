package ofctl

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/glennswest/fattree/pkg/fattree"
	"github.com/glennswest/fattree/pkg/flows"
)

// fakeRunner records invocations and returns canned output.
type fakeRunner struct {
	calls  [][]string
	output string
	err    error
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return []byte(r.output), r.err
}

var edge1 = fattree.SwitchID{Layer: fattree.LayerEdge, Ordinal: 1}

func testFlow() flows.FlowRule {
	host := fattree.HostID{Edge: 1, Offset: 2, Density: 2}
	return flows.FlowRule{
		Switch:   edge1,
		Priority: flows.PriorityDownstream,
		Match:    flows.Match{EtherType: flows.EtherIP, Dst: netip.PrefixFrom(host.IP(), 32)},
		Action:   flows.Output(4),
	}
}

func TestAddFlowCommand(t *testing.T) {
	r := &fakeRunner{}
	c := NewClient(Config{}, r, zap.NewNop().Sugar())

	if err := c.AddFlow(context.Background(), testFlow()); err != nil {
		t.Fatalf("AddFlow: %v", err)
	}
	want := []string{"ovs-ofctl", "add-flow", "3001", "-O", "OpenFlow13",
		"table=0,idle_timeout=0,hard_timeout=0,priority=40,ip,nw_dst=10.1.0.2,actions=output:4"}
	if len(r.calls) != 1 || strings.Join(r.calls[0], " ") != strings.Join(want, " ") {
		t.Errorf("unexpected calls %q", r.calls)
	}
}

func TestAddGroupCommand(t *testing.T) {
	r := &fakeRunner{}
	c := NewClient(Config{OfctlPath: "/usr/bin/ovs-ofctl"}, r, zap.NewNop().Sugar())

	g := flows.GroupRule{Switch: edge1, GroupID: 1, Type: "select", Buckets: []int{1, 2}}
	if err := c.AddGroup(context.Background(), g); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	got := strings.Join(r.calls[0], " ")
	want := "/usr/bin/ovs-ofctl add-group 3001 -O OpenFlow13 group_id=1,type=select,bucket=output:1,bucket=output:2"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPinProtocolCommand(t *testing.T) {
	r := &fakeRunner{}
	c := NewClient(Config{}, r, zap.NewNop().Sugar())

	if err := c.PinProtocol(context.Background(), "2004"); err != nil {
		t.Fatalf("PinProtocol: %v", err)
	}
	got := strings.Join(r.calls[0], " ")
	if got != "ovs-vsctl set bridge 2004 protocols=OpenFlow13" {
		t.Errorf("unexpected command %q", got)
	}
}

func TestCommandErrorIncludesOutput(t *testing.T) {
	exitErr := errors.New("exit status 1")
	r := &fakeRunner{output: "ovs-ofctl: 3001 is not a bridge or a socket\n", err: exitErr}
	c := NewClient(Config{}, r, zap.NewNop().Sugar())

	err := c.AddFlow(context.Background(), testFlow())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, exitErr) {
		t.Errorf("error should wrap runner error, got %v", err)
	}
	if !strings.Contains(err.Error(), "not a bridge") {
		t.Errorf("error should carry command output, got %v", err)
	}
}

func TestDumpFlows(t *testing.T) {
	r := &fakeRunner{output: `OFPST_FLOW reply (OF1.3) (xid=0x2):
 cookie=0x0, duration=3.1s, table=0, n_packets=0, n_bytes=0, priority=40,ip,nw_dst=10.1.0.1 actions=output:3
 cookie=0x0, duration=3.1s, table=0, n_packets=0, n_bytes=0, priority=10,ip actions=group:1
`}
	c := NewClient(Config{}, r, zap.NewNop().Sugar())

	lines, err := c.DumpFlows(context.Background(), "3001")
	if err != nil {
		t.Fatalf("DumpFlows: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 flow lines, got %d: %q", len(lines), lines)
	}
	if !strings.Contains(lines[0], "nw_dst=10.1.0.1") {
		t.Errorf("unexpected first line %q", lines[0])
	}
}

func TestCommandLines(t *testing.T) {
	c := NewClient(Config{}, &fakeRunner{}, zap.NewNop().Sugar())
	got := c.CommandLine(testFlow())
	want := "ovs-ofctl add-flow 3001 -O OpenFlow13 'table=0,idle_timeout=0,hard_timeout=0,priority=40,ip,nw_dst=10.1.0.2,actions=output:4'"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
