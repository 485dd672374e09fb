// fattree: builds a k-pod fat-tree, synthesizes its proactive OpenFlow rules
// and deploys both onto an emulated fabric.
//
// Commands:
//
//	fattree topology   print the enumerated topology as YAML
//	fattree plan       print the rule plan as ovs-ofctl commands or YAML
//	fattree verify     walk the plan for every host pair
//	fattree deploy     create the fabric, address hosts, install rules
//	fattree status     show the last deployment record
//	fattree version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/glennswest/fattree/pkg/config"
)

var version = "dev"

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	flagged    config.Config // flag targets, merged over the loaded file
	cfg        config.Config
	log        *zap.SugaredLogger
}

func main() {
	a := &app{flagged: config.Default()}
	if err := a.rootCommand().Execute(); err != nil {
		a.fatal(err)
	}
}

// fatal logs err and exits. Errors from before setup finished go through a
// default logger.
func (a *app) fatal(err error) {
	log := a.log
	if log == nil {
		var lerr error
		if log, lerr = newLogger("info"); lerr != nil {
			fmt.Fprintln(os.Stderr, "fattree:", err)
			os.Exit(1)
		}
	}
	log.Fatalw("command failed", "error", err)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:               "fattree",
		Short:             "Fat-tree topology builder and proactive OpenFlow rule installer",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	fs := root.PersistentFlags()
	fs.StringVar(&a.configPath, "config", "", "YAML config file (default $"+config.EnvConfigPath+")")
	a.flagged.BindFlags(fs)

	root.AddCommand(
		a.topologyCommand(),
		a.planCommand(),
		a.verifyCommand(),
		a.deployCommand(),
		a.statusCommand(),
		a.versionCommand(),
	)
	return root
}

// setup loads the config file, lays explicitly set flags over it and builds
// the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	cfg.ApplyFlags(cmd.Flags(), a.flagged)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	a.log.Debugw("configuration loaded", "path", a.configPath, "pods", cfg.Pods, "density", cfg.Density, "driver", cfg.Fabric.Driver)
	return nil
}
