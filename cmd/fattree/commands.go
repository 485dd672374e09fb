package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/glennswest/fattree/pkg/fabric"
	"github.com/glennswest/fattree/pkg/fattree"
	"github.com/glennswest/fattree/pkg/flows"
	"github.com/glennswest/fattree/pkg/ofctl"
	"github.com/glennswest/fattree/pkg/verify"
)

func (a *app) buildTopology() (*fattree.Topology, error) {
	p, err := fattree.ComputeParameters(a.cfg.Pods, a.cfg.Density)
	if err != nil {
		return nil, err
	}
	return fattree.Build(p, a.cfg.Bandwidth)
}

func (a *app) buildPlan() (*fattree.Topology, *flows.Plan, error) {
	topo, err := a.buildTopology()
	if err != nil {
		return nil, nil, err
	}
	plan, err := flows.Synthesize(topo)
	if err != nil {
		return nil, nil, err
	}
	return topo, plan, nil
}

func (a *app) ofctlConfig() ofctl.Config {
	return ofctl.Config{
		OfctlPath: a.cfg.OpenFlow.OfctlPath,
		VsctlPath: a.cfg.OpenFlow.VsctlPath,
		Protocol:  a.cfg.OpenFlow.Protocol,
	}
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// ─── topology ────────────────────────────────────────────────────────────────

func (a *app) topologyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Print the enumerated switches, hosts and links as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			topo, err := a.buildTopology()
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), topo)
		},
	}
}

// ─── plan ────────────────────────────────────────────────────────────────────

func (a *app) planCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the synthesized rules without installing them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, plan, err := a.buildPlan()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch format {
			case "yaml":
				return writeYAML(out, plan)
			case "ofctl":
				c := ofctl.NewClient(a.ofctlConfig(), nil, a.log)
				for _, sr := range plan.Switches {
					fmt.Fprintf(out, "# %s\n", sr.Switch)
					for _, g := range sr.Groups {
						fmt.Fprintln(out, c.GroupCommandLine(g))
					}
					for _, f := range sr.Flows {
						fmt.Fprintln(out, c.CommandLine(f))
					}
				}
				return nil
			default:
				return fmt.Errorf("unknown format %q (want ofctl or yaml)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", "ofctl", "output format: ofctl or yaml")
	return cmd
}

// ─── verify ──────────────────────────────────────────────────────────────────

func (a *app) verifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that the plan delivers every host pair over shortest paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			topo, plan, err := a.buildPlan()
			if err != nil {
				return err
			}
			res, err := verify.Check(topo, plan)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range res.Failures {
				fmt.Fprintln(out, f)
			}
			fmt.Fprintf(out, "%d host pairs, %d paths, %d failures\n", res.Pairs, res.Paths, len(res.Failures))
			if !res.OK() {
				return fmt.Errorf("forwarding check failed")
			}
			return nil
		},
	}
}

// ─── deploy ──────────────────────────────────────────────────────────────────

func (a *app) deployCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Create the fabric, address hosts and install the rules",
		Long: "Builds the topology on the configured driver and installs every rule.\n" +
			"With --listen, or on a driver with real hosts, the fabric is held up\n" +
			"until SIGINT/SIGTERM and then torn down.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return a.deploy(ctx, cmd.OutOrStdout())
		},
	}
}

func (a *app) deploy(ctx context.Context, out io.Writer) (err error) {
	drv, cp, err := newFabric(a.cfg, a.ofctlConfig(), a.log)
	if err != nil {
		return err
	}
	mgr := fabric.NewManager(a.cfg, drv, cp, a.log)

	if a.cfg.Fabric.Teardown {
		defer func() {
			tctx, tcancel := context.WithTimeout(context.Background(), time.Minute)
			defer tcancel()
			if terr := mgr.Teardown(tctx); terr != nil {
				a.log.Errorw("teardown failed", "error", terr)
				if err == nil {
					err = terr
				}
			}
		}()
	}

	dep, err := mgr.Deploy(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "run %s on %s: %d switches, %d groups, %d flows, %d failures\n",
		dep.RunID, dep.Driver, dep.Report.Switches, dep.Report.Groups, dep.Report.Flows, len(dep.Report.Failures))
	for _, f := range dep.Report.Failures {
		fmt.Fprintln(out, f)
	}

	hold := a.cfg.ListenAddr != "" || (a.cfg.Fabric.Teardown && drv.Capabilities().Namespaces)
	if !hold {
		return nil
	}

	if a.cfg.ListenAddr != "" {
		mux := http.NewServeMux()
		mgr.RegisterRoutes(mux)
		srv := &http.Server{Addr: a.cfg.ListenAddr, Handler: mux}
		go func() {
			a.log.Infow("API listening", "addr", a.cfg.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Errorw("API server failed", "error", err)
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if iv := a.cfg.Fabric.AuditInterval; iv > 0 {
		go mgr.RunAuditor(ctx, fabric.AuditorOpts{Interval: iv})
	}

	a.log.Infow("fabric up, waiting for signal", "run", dep.RunID)
	<-ctx.Done()
	a.log.Infow("shutting down")
	return nil
}

// ─── status ──────────────────────────────────────────────────────────────────

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the deployment record written by the last deploy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.StatePath == "" {
				return fmt.Errorf("no state file configured (use --state)")
			}
			rec, err := fabric.ReadRecord(a.cfg.StatePath)
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), rec)
		},
	}
}

// ─── version ─────────────────────────────────────────────────────────────────

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
