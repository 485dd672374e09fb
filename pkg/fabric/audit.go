package fabric

import (
	"context"
	"fmt"
	"time"
)

// FlowDumper reads back a switch's installed flow table.
type FlowDumper interface {
	DumpFlows(ctx context.Context, switchName string) ([]string, error)
}

// SwitchAudit compares one switch's flow table with its plan.
type SwitchAudit struct {
	Switch    string `json:"switch" yaml:"switch"`
	Expected  int    `json:"expected" yaml:"expected"`
	Installed int    `json:"installed" yaml:"installed"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Drifted reports whether the switch disagrees with its plan.
func (a SwitchAudit) Drifted() bool {
	return a.Error != "" || a.Expected != a.Installed
}

// AuditorOpts configures the audit loop.
type AuditorOpts struct {
	Interval time.Duration // how often to audit (default 30s)
}

// Audit dumps every switch's flow table and compares the entry count with
// the plan. Drift is reported, never repaired.
func (m *Manager) Audit(ctx context.Context) ([]SwitchAudit, error) {
	dumper, ok := m.cp.(FlowDumper)
	if !ok {
		return nil, fmt.Errorf("flow audit: %w", ErrNotSupported)
	}
	dep := m.Current()
	if dep == nil {
		return nil, fmt.Errorf("flow audit: no active deployment")
	}

	out := make([]SwitchAudit, 0, len(dep.Plan.Switches))
	for _, sr := range dep.Plan.Switches {
		a := SwitchAudit{Switch: sr.Switch.Name(), Expected: len(sr.Flows)}
		lines, err := dumper.DumpFlows(ctx, a.Switch)
		if err != nil {
			a.Error = err.Error()
		}
		a.Installed = len(lines)
		out = append(out, a)
	}
	return out, nil
}

// RunAuditor audits the deployment periodically until ctx is cancelled.
func (m *Manager) RunAuditor(ctx context.Context, opts AuditorOpts) {
	interval := opts.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	m.log.Infow("flow auditor started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("flow auditor stopped")
			return
		case <-ticker.C:
			m.audit(ctx)
		}
	}
}

func (m *Manager) audit(ctx context.Context) {
	log := m.log.Named("auditor")

	results, err := m.Audit(ctx)
	if err != nil {
		log.Warnw("audit failed", "error", err)
		return
	}

	drifts := 0
	for _, a := range results {
		if !a.Drifted() {
			continue
		}
		drifts++
		log.Warnw("drift: flow table differs from plan",
			"switch", a.Switch,
			"expected", a.Expected,
			"installed", a.Installed,
			"error", a.Error,
		)
	}

	if drifts > 0 {
		log.Infow("audit complete", "drifts_detected", drifts)
	} else {
		log.Debugw("audit complete, no drift")
	}
}
