package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glennswest/fattree/pkg/fattree"
	"github.com/glennswest/fattree/pkg/flows"
)

func buildPlan(t *testing.T, k, d int) (*fattree.Topology, *flows.Plan) {
	t.Helper()
	p, err := fattree.ComputeParameters(k, d)
	require.NoError(t, err)
	topo, err := fattree.Build(p, fattree.DefaultBandwidth())
	require.NoError(t, err)
	plan, err := flows.Synthesize(topo)
	require.NoError(t, err)
	return topo, plan
}

func rulesOf(t *testing.T, plan *flows.Plan, name string) *flows.SwitchRules {
	t.Helper()
	id, err := fattree.ParseSwitchName(name)
	require.NoError(t, err)
	sr, ok := plan.Rules(id)
	require.True(t, ok, "no rules for %s", name)
	return sr
}

func kinds(res *Result) map[FailureKind]int {
	out := make(map[FailureKind]int)
	for _, f := range res.Failures {
		out[f.Kind]++
	}
	return out
}

func TestCheckSynthesizedPlans(t *testing.T) {
	tests := []struct {
		k, d  int
		pairs int
		paths int
	}{
		{4, 1, 8 * 7, 2 * 208},
		{4, 2, 16 * 15, 2 * 848},
		{8, 1, 32 * 31, 2 * 14720},
		{8, 4, 128 * 127, 2 * 235904},
	}
	for _, tt := range tests {
		if testing.Short() && tt.k == 8 && tt.d == 4 {
			continue
		}
		topo, plan := buildPlan(t, tt.k, tt.d)
		res, err := Check(topo, plan)
		require.NoError(t, err)
		assert.True(t, res.OK(), "k=%d d=%d: %v", tt.k, tt.d, res.Failures)
		assert.Equal(t, tt.pairs, res.Pairs, "k=%d d=%d pairs", tt.k, tt.d)
		assert.Equal(t, tt.paths, res.Paths, "k=%d d=%d paths", tt.k, tt.d)
	}
}

func TestCheckMissingRules(t *testing.T) {
	topo, plan := buildPlan(t, 4, 1)
	rulesOf(t, plan, "1001").Flows = nil

	res, err := Check(topo, plan)
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, map[FailureKind]int{Unreachable: len(res.Failures)}, kinds(res))
	assert.Contains(t, res.Failures[0].Detail, "1001 has no matching flow")
}

func TestCheckMisdelivered(t *testing.T) {
	topo, plan := buildPlan(t, 4, 2)
	sr := rulesOf(t, plan, "3001")
	// h001's exact matches now point at h002's port.
	sr.Flows[0].Action = flows.Output(4)
	sr.Flows[1].Action = flows.Output(4)

	res, err := Check(topo, plan)
	require.NoError(t, err)
	k := kinds(res)
	assert.Positive(t, k[Misdelivered])
	for _, f := range res.Failures {
		assert.Equal(t, "h001", f.Dst)
	}
}

func TestCheckLoop(t *testing.T) {
	topo, plan := buildPlan(t, 4, 2)
	sr := rulesOf(t, plan, "3001")
	// h002 traffic is bounced up to 2001, which sends 10.1/16 straight back.
	sr.Flows[2].Action = flows.Output(1)
	sr.Flows[3].Action = flows.Output(1)

	res, err := Check(topo, plan)
	require.NoError(t, err)
	assert.Positive(t, kinds(res)[Loop])

	f := res.Failures[0]
	assert.Equal(t, "h002", f.Dst)
	assert.Equal(t, "3001", f.Path[len(f.Path)-1])
}

func TestCheckDetour(t *testing.T) {
	topo, plan := buildPlan(t, 4, 1)
	sr := rulesOf(t, plan, "1001")
	// Subnet 1 goes to pod 2, which can only push it back up.
	sr.Flows[0].Action = flows.Output(2)
	sr.Flows[1].Action = flows.Output(2)

	res, err := Check(topo, plan)
	require.NoError(t, err)
	k := kinds(res)
	assert.Positive(t, k[NotShortest])
	assert.Positive(t, k[Loop])
	assert.Zero(t, k[Misdelivered])
}

func TestCheckDanglingGroup(t *testing.T) {
	topo, plan := buildPlan(t, 4, 1)
	rulesOf(t, plan, "3002").Groups = nil

	res, err := Check(topo, plan)
	require.NoError(t, err)
	assert.Equal(t, map[FailureKind]int{Unreachable: len(res.Failures)}, kinds(res))
	assert.Contains(t, res.Failures[0].Detail, "3002 has no group 1")
	assert.Equal(t, "h002", res.Failures[0].Src)
}

func TestFailureString(t *testing.T) {
	f := Failure{Kind: Loop, Src: "h001", Dst: "h002", EtherType: flows.EtherIP, Path: []string{"h001", "3001", "2001", "3001"}}
	assert.Equal(t, "loop h001->h002 (ip) via h001,3001,2001,3001", f.String())
}
