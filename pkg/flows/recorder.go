package flows

import (
	"context"
	"sync"
)

// Recorder is an in-memory ControlPlane. It keeps every request in order,
// which is what dry runs print and what tests assert on.
type Recorder struct {
	mu        sync.Mutex
	Protocols []string
	Groups    []GroupRule
	Flows     []FlowRule

	// FailFlow, when set, decides whether an AddFlow call is rejected.
	FailFlow func(FlowRule) error
}

func (r *Recorder) PinProtocol(_ context.Context, sw string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Protocols = append(r.Protocols, sw)
	return nil
}

func (r *Recorder) AddGroup(_ context.Context, g GroupRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Groups = append(r.Groups, g)
	return nil
}

func (r *Recorder) AddFlow(_ context.Context, f FlowRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailFlow != nil {
		if err := r.FailFlow(f); err != nil {
			return err
		}
	}
	r.Flows = append(r.Flows, f)
	return nil
}

// FlowsFor returns the recorded flows for one switch.
func (r *Recorder) FlowsFor(sw string) []FlowRule {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []FlowRule
	for _, f := range r.Flows {
		if f.Switch.Name() == sw {
			out = append(out, f)
		}
	}
	return out
}

// DumpFlows renders the recorded flows for one switch in add-flow syntax.
func (r *Recorder) DumpFlows(_ context.Context, sw string) ([]string, error) {
	var out []string
	for _, f := range r.FlowsFor(sw) {
		out = append(out, f.Spec())
	}
	return out, nil
}

// Forget drops every recorded flow for one switch.
func (r *Recorder) Forget(sw string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.Flows[:0]
	for _, f := range r.Flows {
		if f.Switch.Name() != sw {
			kept = append(kept, f)
		}
	}
	r.Flows = kept
}

var _ ControlPlane = (*Recorder)(nil)
