// Package verify walks a synthesized rule plan over its topology and checks
// that every host reaches every other host along shortest paths only.
package verify

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/glennswest/fattree/pkg/fattree"
	"github.com/glennswest/fattree/pkg/flows"
)

// FailureKind classifies a forwarding defect.
type FailureKind string

const (
	Unreachable  FailureKind = "unreachable"  // no rule, dangling port or missing group
	Misdelivered FailureKind = "misdelivered" // handed to the wrong host
	Loop         FailureKind = "loop"         // revisited a switch
	NotShortest  FailureKind = "not-shortest" // delivered over a detour
)

// Failure is one bad forwarding branch.
type Failure struct {
	Kind      FailureKind     `json:"kind" yaml:"kind"`
	Src       string          `json:"src" yaml:"src"`
	Dst       string          `json:"dst" yaml:"dst"`
	EtherType flows.EtherType `json:"etherType" yaml:"etherType"`
	Path      []string        `json:"path" yaml:"path"`
	Detail    string          `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func (f Failure) String() string {
	s := fmt.Sprintf("%s %s->%s (%s) via %s", f.Kind, f.Src, f.Dst, f.EtherType, strings.Join(f.Path, ","))
	if f.Detail != "" {
		s += ": " + f.Detail
	}
	return s
}

// Result summarizes a check.
type Result struct {
	Pairs    int       `json:"pairs" yaml:"pairs"` // ordered host pairs
	Paths    int       `json:"paths" yaml:"paths"` // branches delivered correctly
	Failures []Failure `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// OK reports whether no failures were found.
func (r *Result) OK() bool { return len(r.Failures) == 0 }

// Check walks plan for every ordered host pair and ether type. At each switch
// the highest-priority matching flow is applied; a group action follows every
// bucket, so all ECMP branches are explored. Each branch must end at the
// destination after exactly the shortest-path hop count of the topology.
func Check(topo *fattree.Topology, plan *flows.Plan) (*Result, error) {
	c := newChecker(topo, plan)
	res := &Result{}

	for _, src := range topo.Hosts {
		sp := path.DijkstraFrom(c.node(src), c.g)
		for _, dst := range topo.Hosts {
			if src == dst {
				continue
			}
			res.Pairs++
			want := sp.WeightTo(c.ids[dst.Name()])
			if math.IsInf(want, 1) {
				return nil, fmt.Errorf("topology has no path %s->%s", src, dst)
			}
			for _, et := range flows.EtherTypes {
				c.walk(res, src, dst, et, int(want))
			}
		}
	}
	return res, nil
}

type checker struct {
	g     *simple.WeightedUndirectedGraph
	ids   map[string]int64
	ports map[fattree.SwitchID]map[int]fattree.Node
	plan  *flows.Plan
}

func newChecker(topo *fattree.Topology, plan *flows.Plan) *checker {
	c := &checker{
		g:     simple.NewWeightedUndirectedGraph(0, math.Inf(1)),
		ids:   make(map[string]int64),
		ports: topo.PortMap(),
		plan:  plan,
	}
	for _, sw := range topo.Switches() {
		c.add(sw)
	}
	for _, h := range topo.Hosts {
		c.add(h)
	}
	for _, l := range topo.Links {
		c.g.SetWeightedEdge(simple.WeightedEdge{F: c.node(l.A), T: c.node(l.B), W: 1.0})
	}
	return c
}

func (c *checker) add(n fattree.Node) {
	id := int64(len(c.ids))
	c.ids[n.Name()] = id
	c.g.AddNode(simple.Node(id))
}

func (c *checker) node(n fattree.Node) graph.Node {
	return simple.Node(c.ids[n.Name()])
}

// branch is a packet in flight: the switch it is on and the nodes behind it.
type branch struct {
	at   fattree.SwitchID
	path []string
}

func (c *checker) walk(res *Result, src, dst fattree.HostID, et flows.EtherType, hops int) {
	fail := func(kind FailureKind, p []string, detail string) {
		res.Failures = append(res.Failures, Failure{
			Kind: kind, Src: src.Name(), Dst: dst.Name(), EtherType: et, Path: p, Detail: detail,
		})
	}

	first := src.EdgeSwitch()
	stack := []branch{{at: first, path: []string{src.Name(), first.Name()}}}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		out, detail := c.forward(b.at, et, dst)
		if detail != "" {
			fail(Unreachable, b.path, detail)
			continue
		}

		for _, port := range out {
			peer, ok := c.ports[b.at][port]
			if !ok {
				fail(Unreachable, b.path, fmt.Sprintf("%s port %d is not connected", b.at, port))
				continue
			}
			next := append(append([]string(nil), b.path...), peer.Name())

			switch p := peer.(type) {
			case fattree.HostID:
				switch {
				case p != dst:
					fail(Misdelivered, next, "")
				case len(next)-1 != hops:
					fail(NotShortest, next, fmt.Sprintf("%d hops, shortest is %d", len(next)-1, hops))
				default:
					res.Paths++
				}
			case fattree.SwitchID:
				if contains(b.path, p.Name()) {
					fail(Loop, next, "")
					continue
				}
				stack = append(stack, branch{at: p, path: next})
			}
		}
	}
}

// forward returns the ports sw sends the packet out of, or a reason it is
// dropped.
func (c *checker) forward(sw fattree.SwitchID, et flows.EtherType, dst fattree.HostID) ([]int, string) {
	sr, ok := c.plan.Rules(sw)
	if !ok {
		return nil, fmt.Sprintf("no rules for %s", sw)
	}
	f, ok := sr.Lookup(et, dst.IP())
	if !ok {
		return nil, fmt.Sprintf("%s has no matching flow", sw)
	}
	switch f.Action.Kind {
	case flows.ActionOutput:
		return []int{f.Action.Value}, ""
	case flows.ActionGroup:
		g, ok := sr.GroupByID(f.Action.Value)
		if !ok {
			return nil, fmt.Sprintf("%s has no group %d", sw, f.Action.Value)
		}
		return g.Buckets, ""
	default:
		return nil, fmt.Sprintf("%s: unknown action %q", sw, f.Action)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
