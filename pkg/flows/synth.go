package flows

import (
	"fmt"
	"net/netip"

	"github.com/glennswest/fattree/pkg/fattree"
)

// Synthesize derives the proactive rule set for every switch in topo. It
// looks only at each switch's identity and the fixed numbering conventions,
// so the result is the same for the same (k, d) every time.
//
// Switches are emitted edge, aggregation, then core.
func Synthesize(topo *fattree.Topology) (*Plan, error) {
	p := topo.Params
	plan := &Plan{
		Params:   p,
		Switches: make([]SwitchRules, 0, len(topo.Edge)+len(topo.Agg)+len(topo.Core)),
	}

	for _, sw := range topo.Edge {
		plan.Switches = append(plan.Switches, edgeRules(p, sw))
	}
	for _, sw := range topo.Agg {
		sr, err := aggRules(p, sw)
		if err != nil {
			return nil, fmt.Errorf("aggregation switch %s: %w", sw, err)
		}
		plan.Switches = append(plan.Switches, sr)
	}
	for _, sw := range topo.Core {
		plan.Switches = append(plan.Switches, coreRules(p, sw))
	}
	return plan, nil
}

// edgeRules: exact host matches to the local ports after the uplinks, plus
// the uplink group.
func edgeRules(p fattree.Params, sw fattree.SwitchID) SwitchRules {
	sr := SwitchRules{Switch: sw}
	sr.Groups = append(sr.Groups, uplinkGroup(p, sw))

	for i := 1; i <= p.Density; i++ {
		host := fattree.HostID{Edge: sw.Ordinal, Offset: i, Density: p.Density}
		dst := netip.PrefixFrom(host.IP(), 32)
		sr.Flows = appendPair(sr.Flows, sw, PriorityDownstream, dst, Output(p.Half+i))
	}
	sr.Flows = appendPair(sr.Flows, sw, PriorityUpstream, netip.Prefix{}, Group(UplinkGroup))
	return sr
}

// aggRules: one /16 per edge switch in the pod, out the matching downstream
// port, plus the uplink group toward the core.
func aggRules(p fattree.Params, sw fattree.SwitchID) (SwitchRules, error) {
	subnets, err := SubnetGroup(p.Pods, sw.Ordinal)
	if err != nil {
		return SwitchRules{}, err
	}

	sr := SwitchRules{Switch: sw}
	sr.Groups = append(sr.Groups, uplinkGroup(p, sw))
	for bIdx, s := range subnets {
		sr.Flows = appendPair(sr.Flows, sw, PriorityDownstream, fattree.EdgeSubnet(s), Output(p.Half+bIdx+1))
	}
	sr.Flows = appendPair(sr.Flows, sw, PriorityUpstream, netip.Prefix{}, Group(UplinkGroup))
	return sr, nil
}

// coreRules: every edge subnet, out the port facing its pod. A core switch
// has one port per pod and each pod holds k/2 edge switches.
func coreRules(p fattree.Params, sw fattree.SwitchID) SwitchRules {
	sr := SwitchRules{Switch: sw}
	for i := 1; i <= p.EdgeCount; i++ {
		port := (i-1)/p.Half + 1
		sr.Flows = appendPair(sr.Flows, sw, PriorityUpstream, fattree.EdgeSubnet(i), Output(port))
	}
	return sr
}

func uplinkGroup(p fattree.Params, sw fattree.SwitchID) GroupRule {
	buckets := make([]int, p.Half)
	for i := range buckets {
		buckets[i] = i + 1
	}
	return GroupRule{Switch: sw, GroupID: UplinkGroup, Type: "select", Buckets: buckets}
}

// appendPair adds the ARP and IP variants of one rule.
func appendPair(dst []FlowRule, sw fattree.SwitchID, prio int, to netip.Prefix, act Action) []FlowRule {
	for _, et := range EtherTypes {
		dst = append(dst, FlowRule{
			Switch:   sw,
			Table:    0,
			Priority: prio,
			Match:    Match{EtherType: et, Dst: to},
			Action:   act,
		})
	}
	return dst
}
