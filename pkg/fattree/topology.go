package fattree

import (
	"fmt"
	"net/netip"
)

// Tier classifies a link by the layers it joins.
type Tier string

const (
	TierCoreAgg  Tier = "core-agg"
	TierAggEdge  Tier = "agg-edge"
	TierEdgeHost Tier = "edge-host"
)

// Bandwidth holds per-tier link rates in Mbit/s and the shared queue bound.
type Bandwidth struct {
	CoreAgg      float64 `json:"coreAgg" yaml:"coreAgg"`
	AggEdge      float64 `json:"aggEdge" yaml:"aggEdge"`
	EdgeHost     float64 `json:"edgeHost" yaml:"edgeHost"`
	MaxQueueSize int     `json:"maxQueueSize" yaml:"maxQueueSize"`
}

// DefaultBandwidth is 20/10/5 Mbit/s with a 1000-packet queue.
func DefaultBandwidth() Bandwidth {
	return Bandwidth{CoreAgg: 20, AggEdge: 10, EdgeHost: 5, MaxQueueSize: 1000}
}

// Link is an undirected edge between two nodes. A is always the upper-layer
// end (core before agg, agg before edge, edge before host).
type Link struct {
	A            Node
	B            Node
	Tier         Tier
	Bandwidth    float64
	MaxQueueSize int
}

// Topology is one fully enumerated fat-tree. It is built once and never
// mutated; a different (k, d) needs a new Topology.
type Topology struct {
	Params Params
	Core   []SwitchID
	Agg    []SwitchID
	Edge   []SwitchID
	Hosts  []HostID
	Links  []Link
}

// Build enumerates switches and hosts for p and wires them. Links are emitted
// core-agg first, then agg-edge, then edge-host; the order fixes the
// OpenFlow port numbers on every switch (see PortMap).
func Build(p Params, bw Bandwidth) (*Topology, error) {
	if p.Half == 0 || p.Half*2 != p.Pods {
		return nil, fmt.Errorf("%w: params not derived from ComputeParameters", ErrInvalidParameter)
	}

	t := &Topology{
		Params: p,
		Core:   buildSwitches(LayerCore, p.CoreCount),
		Agg:    buildSwitches(LayerAggregation, p.AggCount),
		Edge:   buildSwitches(LayerEdge, p.EdgeCount),
		Hosts:  buildHosts(p.EdgeCount, p.Density),
	}
	if err := t.buildLinks(bw); err != nil {
		return nil, err
	}
	return t, nil
}

func buildSwitches(layer Layer, n int) []SwitchID {
	out := make([]SwitchID, n)
	for i := range out {
		out[i] = SwitchID{Layer: layer, Ordinal: i + 1}
	}
	return out
}

func buildHosts(edges, density int) []HostID {
	out := make([]HostID, 0, edges*density)
	for e := 1; e <= edges; e++ {
		for off := 1; off <= density; off++ {
			out = append(out, HostID{Edge: e, Offset: off, Density: density})
		}
	}
	return out
}

func (t *Topology) buildLinks(bw Bandwidth) error {
	half := t.Params.Half
	t.Links = make([]Link, 0, t.Params.CoreCount*t.Params.Pods+t.Params.AggCount*half+t.Params.HostCount)

	// Core <-> Agg: the i-th agg switch of every pod connects to core stripe i.
	for x := 0; x < len(t.Agg); x += half {
		for i := 0; i < half; i++ {
			for j := 0; j < half; j++ {
				core, err := at(t.Core, i*half+j, "core")
				if err != nil {
					return err
				}
				agg, err := at(t.Agg, x+i, "aggregation")
				if err != nil {
					return err
				}
				t.addLink(core, agg, TierCoreAgg, bw.CoreAgg, bw.MaxQueueSize)
			}
		}
	}

	// Agg <-> Edge: full bipartite inside each pod.
	for x := 0; x < len(t.Agg); x += half {
		for i := 0; i < half; i++ {
			for j := 0; j < half; j++ {
				agg, err := at(t.Agg, x+i, "aggregation")
				if err != nil {
					return err
				}
				edge, err := at(t.Edge, x+j, "edge")
				if err != nil {
					return err
				}
				t.addLink(agg, edge, TierAggEdge, bw.AggEdge, bw.MaxQueueSize)
			}
		}
	}

	// Edge <-> Host
	d := t.Params.Density
	for x := range t.Edge {
		for i := 0; i < d; i++ {
			host, err := at(t.Hosts, d*x+i, "host")
			if err != nil {
				return err
			}
			t.addLink(t.Edge[x], host, TierEdgeHost, bw.EdgeHost, bw.MaxQueueSize)
		}
	}
	return nil
}

func (t *Topology) addLink(a, b Node, tier Tier, rate float64, queue int) {
	t.Links = append(t.Links, Link{A: a, B: b, Tier: tier, Bandwidth: rate, MaxQueueSize: queue})
}

func at[T any](list []T, idx int, what string) (T, error) {
	var zero T
	if idx < 0 || idx >= len(list) {
		return zero, fmt.Errorf("%w: %s index %d (have %d)", ErrEnumeration, what, idx, len(list))
	}
	return list[idx], nil
}

// Switches returns every switch: core, then aggregation, then edge.
func (t *Topology) Switches() []SwitchID {
	out := make([]SwitchID, 0, len(t.Core)+len(t.Agg)+len(t.Edge))
	out = append(out, t.Core...)
	out = append(out, t.Agg...)
	out = append(out, t.Edge...)
	return out
}

// LinkCount returns the number of links in a tier.
func (t *Topology) LinkCount(tier Tier) int {
	n := 0
	for _, l := range t.Links {
		if l.Tier == tier {
			n++
		}
	}
	return n
}

// HostByIP finds the host owning ip.
func (t *Topology) HostByIP(ip netip.Addr) (HostID, bool) {
	for _, h := range t.Hosts {
		if h.IP() == ip {
			return h, true
		}
	}
	return HostID{}, false
}

// PortMap gives, for every switch, OpenFlow port number -> neighbor. Ports
// are numbered from 1 in link creation order, so agg and edge switches get
// their k/2 uplinks on ports 1..k/2 and downstream ports after that.
func (t *Topology) PortMap() map[SwitchID]map[int]Node {
	ports := make(map[SwitchID]map[int]Node, len(t.Core)+len(t.Agg)+len(t.Edge))
	assign := func(n, peer Node) {
		sw, ok := n.(SwitchID)
		if !ok {
			return
		}
		m := ports[sw]
		if m == nil {
			m = make(map[int]Node)
			ports[sw] = m
		}
		m[len(m)+1] = peer
	}
	for _, l := range t.Links {
		assign(l.A, l.B)
		assign(l.B, l.A)
	}
	return ports
}
