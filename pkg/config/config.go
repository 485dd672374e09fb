package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/glennswest/fattree/pkg/fattree"
	"github.com/glennswest/fattree/pkg/flows"
)

// EnvConfigPath names the environment variable consulted when no --config
// flag is given.
const EnvConfigPath = "FATTREE_CONFIG"

// Config is the full fattree configuration.
type Config struct {
	// Topology shape
	Pods    int `yaml:"pods"`    // k, must be even
	Density int `yaml:"density"` // hosts per edge switch

	// Per-tier link shaping
	Bandwidth fattree.Bandwidth `yaml:"bandwidth"`

	OpenFlow OpenFlowConfig `yaml:"openflow"`
	Fabric   FabricConfig   `yaml:"fabric"`

	// StatePath is where the deployment record is written. Empty disables it.
	StatePath string `yaml:"statePath"`

	// ListenAddr serves the HTTP API after deploy when set, e.g. ":8080".
	ListenAddr string `yaml:"listenAddr"`

	LogLevel string `yaml:"logLevel"` // debug, info, warn, error
}

// OpenFlowConfig selects the switch control-plane tools.
type OpenFlowConfig struct {
	Protocol  string `yaml:"protocol"`  // e.g. "OpenFlow13"
	OfctlPath string `yaml:"ofctlPath"` // e.g. "/usr/bin/ovs-ofctl"
	VsctlPath string `yaml:"vsctlPath"`
}

// FabricConfig selects and tunes the emulated network backend.
type FabricConfig struct {
	Driver   string `yaml:"driver"`   // "memory" or "linux"
	Teardown bool   `yaml:"teardown"` // remove the fabric on exit

	// AuditInterval compares installed flow tables with the plan this
	// often while a deployment is held up. Zero disables the auditor.
	AuditInterval time.Duration `yaml:"auditInterval"`
}

// Default returns the built-in configuration: a 4-pod tree with two hosts
// per edge switch on the in-memory fabric.
func Default() Config {
	return Config{
		Pods:      4,
		Density:   2,
		Bandwidth: fattree.DefaultBandwidth(),
		OpenFlow: OpenFlowConfig{
			Protocol:  "OpenFlow13",
			OfctlPath: "ovs-ofctl",
			VsctlPath: "ovs-vsctl",
		},
		Fabric: FabricConfig{
			Driver:   "memory",
			Teardown: true,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML file over the defaults. An empty path falls back to
// $FATTREE_CONFIG; if that is also empty the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// BindFlags registers command-line overrides for cfg on fs.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.IntVarP(&c.Pods, "pods", "k", c.Pods, "number of pods (even)")
	fs.IntVarP(&c.Density, "density", "d", c.Density, "hosts per edge switch")
	fs.StringVar(&c.Fabric.Driver, "driver", c.Fabric.Driver, "fabric driver: memory or linux")
	fs.StringVar(&c.StatePath, "state", c.StatePath, "write the deployment record to this YAML file")
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "serve the HTTP API on this address after deploy")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
	fs.DurationVar(&c.Fabric.AuditInterval, "audit-interval", c.Fabric.AuditInterval, "audit installed flows this often while deployed (0 disables)")
}

// ApplyFlags copies flags that were explicitly set on fs into c. Used after
// Load so the file does not clobber command-line values.
func (c *Config) ApplyFlags(fs *pflag.FlagSet, flagged Config) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "pods":
			c.Pods = flagged.Pods
		case "density":
			c.Density = flagged.Density
		case "driver":
			c.Fabric.Driver = flagged.Fabric.Driver
		case "state":
			c.StatePath = flagged.StatePath
		case "listen":
			c.ListenAddr = flagged.ListenAddr
		case "log-level":
			c.LogLevel = flagged.LogLevel
		case "audit-interval":
			c.Fabric.AuditInterval = flagged.Fabric.AuditInterval
		}
	})
}

// Validate checks values that would otherwise fail deep inside a deploy.
func (c *Config) Validate() error {
	if _, err := fattree.ComputeParameters(c.Pods, c.Density); err != nil {
		return err
	}
	if err := flows.CheckPods(c.Pods); err != nil {
		return err
	}
	switch c.Fabric.Driver {
	case "memory", "linux":
	default:
		return fmt.Errorf("unknown fabric driver %q", c.Fabric.Driver)
	}
	bw := c.Bandwidth
	if bw.CoreAgg <= 0 || bw.AggEdge <= 0 || bw.EdgeHost <= 0 {
		return fmt.Errorf("link bandwidths must be positive, got %+v", bw)
	}
	if c.Fabric.AuditInterval < 0 {
		return fmt.Errorf("audit interval must not be negative, got %s", c.Fabric.AuditInterval)
	}
	if bw.MaxQueueSize < 1 {
		return fmt.Errorf("max queue size must be positive, got %d", bw.MaxQueueSize)
	}
	return nil
}
