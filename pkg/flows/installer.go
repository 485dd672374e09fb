package flows

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ControlPlane is the per-switch OpenFlow management surface the installer
// pushes rules through.
type ControlPlane interface {
	// PinProtocol restricts the switch to the OpenFlow version rules are
	// written for.
	PinProtocol(ctx context.Context, switchName string) error
	AddGroup(ctx context.Context, g GroupRule) error
	AddFlow(ctx context.Context, f FlowRule) error
}

// InstallError records one rule the control plane refused.
type InstallError struct {
	Switch string `json:"switch" yaml:"switch"`
	Rule   string `json:"rule" yaml:"rule"`
	Err    error  `json:"-" yaml:"-"`
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("switch %s: installing %q: %v", e.Switch, e.Rule, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// Report summarizes an installation pass.
type Report struct {
	Switches int             `json:"switches" yaml:"switches"`
	Groups   int             `json:"groups" yaml:"groups"`
	Flows    int             `json:"flows" yaml:"flows"`
	Failures []*InstallError `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Installer pushes a Plan to a ControlPlane.
type Installer struct {
	cp  ControlPlane
	log *zap.SugaredLogger
}

// NewInstaller returns an Installer writing through cp.
func NewInstaller(cp ControlPlane, log *zap.SugaredLogger) *Installer {
	return &Installer{cp: cp, log: log.Named("installer")}
}

// Install walks the plan switch by switch and rule by rule. A failed call is
// logged and recorded in the report; installation carries on with the next
// rule. Nothing is retried or rolled back. Only context cancellation stops
// the pass early.
func (in *Installer) Install(ctx context.Context, plan *Plan) (Report, error) {
	var rep Report

	for _, sr := range plan.Switches {
		name := sr.Switch.Name()
		log := in.log.With("switch", name)

		if err := ctx.Err(); err != nil {
			return rep, err
		}

		if err := in.cp.PinProtocol(ctx, name); err != nil {
			in.fail(&rep, log, name, "protocols", err)
		}

		for _, g := range sr.Groups {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			if err := in.cp.AddGroup(ctx, g); err != nil {
				in.fail(&rep, log, name, g.Spec(), err)
				continue
			}
			rep.Groups++
		}

		for _, f := range sr.Flows {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			if err := in.cp.AddFlow(ctx, f); err != nil {
				in.fail(&rep, log, name, f.Spec(), err)
				continue
			}
			rep.Flows++
		}

		rep.Switches++
		log.Debugw("switch rules installed", "groups", len(sr.Groups), "flows", len(sr.Flows))
	}

	in.log.Infow("rule installation complete",
		"switches", rep.Switches,
		"groups", rep.Groups,
		"flows", rep.Flows,
		"failures", len(rep.Failures),
	)
	return rep, nil
}

func (in *Installer) fail(rep *Report, log *zap.SugaredLogger, sw, rule string, err error) {
	ie := &InstallError{Switch: sw, Rule: rule, Err: err}
	rep.Failures = append(rep.Failures, ie)
	log.Warnw("rule installation failed", "rule", rule, "error", err)
}
