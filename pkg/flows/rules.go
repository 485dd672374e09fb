package flows

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/glennswest/fattree/pkg/fattree"
)

// Priorities used by the proactive scheme. Downstream matches always beat
// the upstream catch-all on a switch.
const (
	PriorityDownstream = 40
	PriorityUpstream   = 10
)

// UplinkGroup is the select group every agg and edge switch spreads
// upstream traffic over.
const UplinkGroup = 1

// EtherType is the L2 protocol a flow matches.
type EtherType string

const (
	EtherARP EtherType = "arp"
	EtherIP  EtherType = "ip"
)

// EtherTypes are installed pairwise, ARP first.
var EtherTypes = []EtherType{EtherARP, EtherIP}

// Match is a flow predicate. A zero Dst matches any destination.
type Match struct {
	EtherType EtherType    `json:"etherType" yaml:"etherType"`
	Dst       netip.Prefix `json:"dst" yaml:"dst"`
}

// Matches reports whether a packet of the given type to dst hits m.
func (m Match) Matches(et EtherType, dst netip.Addr) bool {
	if m.EtherType != et {
		return false
	}
	return !m.Dst.IsValid() || m.Dst.Contains(dst)
}

func (m Match) spec() string {
	if !m.Dst.IsValid() {
		return string(m.EtherType)
	}
	dst := m.Dst.String()
	if m.Dst.IsSingleIP() {
		dst = m.Dst.Addr().String()
	}
	return string(m.EtherType) + ",nw_dst=" + dst
}

// ActionKind says where a matching packet goes.
type ActionKind string

const (
	ActionOutput ActionKind = "output"
	ActionGroup  ActionKind = "group"
)

// Action is output:<port> or group:<id>.
type Action struct {
	Kind  ActionKind `json:"kind" yaml:"kind"`
	Value int        `json:"value" yaml:"value"`
}

func Output(port int) Action { return Action{Kind: ActionOutput, Value: port} }
func Group(id int) Action    { return Action{Kind: ActionGroup, Value: id} }

func (a Action) String() string {
	return string(a.Kind) + ":" + strconv.Itoa(a.Value)
}

// FlowRule is one flow table entry.
type FlowRule struct {
	Switch      fattree.SwitchID `json:"-" yaml:"-"`
	Table       int              `json:"table" yaml:"table"`
	Priority    int              `json:"priority" yaml:"priority"`
	Match       Match            `json:"match" yaml:"match"`
	Action      Action           `json:"action" yaml:"action"`
	IdleTimeout int              `json:"idleTimeout" yaml:"idleTimeout"`
	HardTimeout int              `json:"hardTimeout" yaml:"hardTimeout"`
}

// Spec renders the rule in ovs-ofctl add-flow syntax.
func (r FlowRule) Spec() string {
	return fmt.Sprintf("table=%d,idle_timeout=%d,hard_timeout=%d,priority=%d,%s,actions=%s",
		r.Table, r.IdleTimeout, r.HardTimeout, r.Priority, r.Match.spec(), r.Action)
}

// GroupRule is one group table entry.
type GroupRule struct {
	Switch  fattree.SwitchID `json:"-" yaml:"-"`
	GroupID int              `json:"groupId" yaml:"groupId"`
	Type    string           `json:"type" yaml:"type"`
	Buckets []int            `json:"buckets" yaml:"buckets"` // output ports, one per bucket
}

// Spec renders the group in ovs-ofctl add-group syntax.
func (g GroupRule) Spec() string {
	var b strings.Builder
	fmt.Fprintf(&b, "group_id=%d,type=%s", g.GroupID, g.Type)
	for _, port := range g.Buckets {
		fmt.Fprintf(&b, ",bucket=output:%d", port)
	}
	return b.String()
}

// SwitchRules is the complete rule set for one switch. Groups are installed
// before flows so group actions never dangle.
type SwitchRules struct {
	Switch fattree.SwitchID `json:"switch" yaml:"switch"`
	Groups []GroupRule      `json:"groups,omitempty" yaml:"groups,omitempty"`
	Flows  []FlowRule       `json:"flows" yaml:"flows"`
}

// Lookup returns the highest-priority flow matching the packet. Ties go to
// the rule installed first.
func (sr *SwitchRules) Lookup(et EtherType, dst netip.Addr) (FlowRule, bool) {
	var (
		best  FlowRule
		found bool
	)
	for _, f := range sr.Flows {
		if !f.Match.Matches(et, dst) {
			continue
		}
		if !found || f.Priority > best.Priority {
			best, found = f, true
		}
	}
	return best, found
}

// GroupByID returns the group with the given id.
func (sr *SwitchRules) GroupByID(id int) (GroupRule, bool) {
	for _, g := range sr.Groups {
		if g.GroupID == id {
			return g, true
		}
	}
	return GroupRule{}, false
}

// Plan is the synthesized rule set for a whole topology.
type Plan struct {
	Params   fattree.Params `json:"params" yaml:"params"`
	Switches []SwitchRules  `json:"switches" yaml:"switches"`
}

// Rules returns the rule set for sw.
func (p *Plan) Rules(sw fattree.SwitchID) (*SwitchRules, bool) {
	for i := range p.Switches {
		if p.Switches[i].Switch == sw {
			return &p.Switches[i], true
		}
	}
	return nil, false
}

// Counts returns the total number of flows and groups in the plan.
func (p *Plan) Counts() (flows, groups int) {
	for _, sr := range p.Switches {
		flows += len(sr.Flows)
		groups += len(sr.Groups)
	}
	return flows, groups
}
