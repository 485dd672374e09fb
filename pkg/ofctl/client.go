// Package ofctl drives Open vSwitch bridges through the ovs-ofctl and
// ovs-vsctl utilities.
package ofctl

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/glennswest/fattree/pkg/flows"
)

// Runner executes one command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Config selects binaries and the OpenFlow version.
type Config struct {
	OfctlPath string // default "ovs-ofctl"
	VsctlPath string // default "ovs-vsctl"
	Protocol  string // default "OpenFlow13"
}

// Client implements flows.ControlPlane on top of the OVS command line tools.
type Client struct {
	cfg    Config
	runner Runner
	log    *zap.SugaredLogger
}

// WithDefaults fills empty fields.
func (c Config) WithDefaults() Config {
	if c.OfctlPath == "" {
		c.OfctlPath = "ovs-ofctl"
	}
	if c.VsctlPath == "" {
		c.VsctlPath = "ovs-vsctl"
	}
	if c.Protocol == "" {
		c.Protocol = "OpenFlow13"
	}
	return c
}

// NewClient returns a Client. A nil runner means ExecRunner.
func NewClient(cfg Config, runner Runner, log *zap.SugaredLogger) *Client {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Client{cfg: cfg.WithDefaults(), runner: runner, log: log.Named("ofctl")}
}

// PinProtocol sets the bridge's allowed OpenFlow versions.
func (c *Client) PinProtocol(ctx context.Context, sw string) error {
	return c.run(ctx, c.cfg.VsctlPath, "set", "bridge", sw, "protocols="+c.cfg.Protocol)
}

// AddGroup runs ovs-ofctl add-group.
func (c *Client) AddGroup(ctx context.Context, g flows.GroupRule) error {
	return c.run(ctx, c.cfg.OfctlPath, "add-group", g.Switch.Name(), "-O", c.cfg.Protocol, g.Spec())
}

// AddFlow runs ovs-ofctl add-flow.
func (c *Client) AddFlow(ctx context.Context, f flows.FlowRule) error {
	return c.run(ctx, c.cfg.OfctlPath, "add-flow", f.Switch.Name(), "-O", c.cfg.Protocol, f.Spec())
}

// DumpFlows returns the switch's flow table, one entry per line, without the
// reply header.
func (c *Client) DumpFlows(ctx context.Context, sw string) ([]string, error) {
	out, err := c.runner.Run(ctx, c.cfg.OfctlPath, "dump-flows", sw, "-O", c.cfg.Protocol)
	if err != nil {
		return nil, fmt.Errorf("%s dump-flows %s: %w: %s", c.cfg.OfctlPath, sw, err, strings.TrimSpace(string(out)))
	}
	var lines []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "OFPST_FLOW") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// CommandLine renders the ovs-ofctl invocation for a flow, for dry-run output.
func (c *Client) CommandLine(f flows.FlowRule) string {
	return fmt.Sprintf("%s add-flow %s -O %s '%s'", c.cfg.OfctlPath, f.Switch.Name(), c.cfg.Protocol, f.Spec())
}

// GroupCommandLine renders the ovs-ofctl invocation for a group.
func (c *Client) GroupCommandLine(g flows.GroupRule) string {
	return fmt.Sprintf("%s add-group %s -O %s '%s'", c.cfg.OfctlPath, g.Switch.Name(), c.cfg.Protocol, g.Spec())
}

func (c *Client) run(ctx context.Context, name string, args ...string) error {
	out, err := c.runner.Run(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	c.log.Debugw("command ok", "cmd", name, "args", args)
	return nil
}

// Ensure Client implements ControlPlane at compile time.
var _ flows.ControlPlane = (*Client)(nil)
