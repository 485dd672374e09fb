package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/yaml.v3"

	"github.com/glennswest/fattree/pkg/config"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvConfigPath, "")
	a := &app{flagged: config.Default()}
	root := a.rootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestPlanCommandOfctl(t *testing.T) {
	out, err := run(t, "plan", "-k", "4", "-d", "1")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, "# 3001", lines[0])
	assert.Equal(t, "ovs-ofctl add-group 3001 -O OpenFlow13 'group_id=1,type=select,bucket=output:1,bucket=output:2'", lines[1])
	assert.Equal(t, "ovs-ofctl add-flow 3001 -O OpenFlow13 'table=0,idle_timeout=0,hard_timeout=0,priority=40,arp,nw_dst=10.1.0.1,actions=output:3'", lines[2])
	assert.Contains(t, out, "# 1004\n")
	assert.Equal(t, 144, strings.Count(out, "add-flow"))
	assert.Equal(t, 16, strings.Count(out, "add-group"))
}

func TestPlanCommandYAML(t *testing.T) {
	out, err := run(t, "plan", "--format", "yaml")
	require.NoError(t, err)

	var plan struct {
		Params struct {
			Pods int `yaml:"pods"`
		} `yaml:"params"`
		Switches []struct {
			Switch string `yaml:"switch"`
			Flows  []struct {
				Priority int `yaml:"priority"`
				Match    struct {
					EtherType string `yaml:"etherType"`
					Dst       string `yaml:"dst"`
				} `yaml:"match"`
			} `yaml:"flows"`
		} `yaml:"switches"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &plan))
	assert.Equal(t, 4, plan.Params.Pods)
	require.Len(t, plan.Switches, 20)
	assert.Equal(t, "3001", plan.Switches[0].Switch)
	assert.Equal(t, "10.1.0.1/32", plan.Switches[0].Flows[0].Match.Dst)
	assert.Equal(t, "1004", plan.Switches[19].Switch)
}

func TestPlanCommandErrors(t *testing.T) {
	_, err := run(t, "plan", "--format", "json")
	assert.Error(t, err)

	_, err = run(t, "plan", "-k", "6", "-d", "1")
	assert.Error(t, err, "pod count without aggregation routing")

	_, err = run(t, "plan", "-k", "5")
	assert.Error(t, err)
}

func TestTopologyCommand(t *testing.T) {
	out, err := run(t, "topology", "-k", "4", "-d", "1")
	require.NoError(t, err)

	var topo struct {
		Core  []string `yaml:"core"`
		Hosts []string `yaml:"hosts"`
		Links []struct {
			A string `yaml:"a"`
			B string `yaml:"b"`
		} `yaml:"links"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &topo))
	assert.Equal(t, []string{"1001", "1002", "1003", "1004"}, topo.Core)
	assert.Len(t, topo.Hosts, 8)
	require.Len(t, topo.Links, 40)
	assert.Equal(t, "3008", topo.Links[39].A)
	assert.Equal(t, "h008", topo.Links[39].B)
}

func TestVerifyCommand(t *testing.T) {
	out, err := run(t, "verify", "-k", "4", "-d", "1")
	require.NoError(t, err)
	assert.Equal(t, "56 host pairs, 416 paths, 0 failures\n", out)
}

func TestDeployAndStatus(t *testing.T) {
	state := filepath.Join(t.TempDir(), "deploy.yaml")

	out, err := run(t, "deploy", "--state", state)
	require.NoError(t, err)
	assert.Contains(t, out, "on memory: 20 switches, 16 groups, 160 flows, 0 failures")

	out, err = run(t, "status", "--state", state)
	require.NoError(t, err)
	var rec struct {
		RunID     string     `yaml:"runId"`
		StoppedAt *time.Time `yaml:"stoppedAt"`
		Pods      int        `yaml:"pods"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &rec))
	assert.NotEmpty(t, rec.RunID)
	assert.NotNil(t, rec.StoppedAt, "memory deploy tears down on exit")
	assert.Equal(t, 4, rec.Pods)

	_, err = run(t, "status")
	assert.Error(t, err, "status without a state file")
}

func TestConfigFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fattree.yaml")
	writeFile(t, path, "pods: 8\ndensity: 1\nlogLevel: error\n")

	out, err := run(t, "verify", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "992 host pairs, 29440 paths, 0 failures\n", out)

	// An explicit flag beats the file.
	out, err = run(t, "verify", "--config", path, "-k", "4")
	require.NoError(t, err)
	assert.Equal(t, "56 host pairs, 416 paths, 0 failures\n", out)
}

func TestDeployUnsupportedPodsBuildsNothing(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.json")
	_, err := run(t, "deploy", "-k", "6", "-d", "1", "--state", state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "k=6")

	_, statErr := os.Stat(state)
	assert.True(t, os.IsNotExist(statErr), "no deployment record for a rejected config")
}

func TestFatalLogsError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	a := &app{log: zap.New(core, zap.WithFatalHook(zapcore.WriteThenPanic)).Sugar()}

	assert.Panics(t, func() { a.fatal(errors.New("starting fabric: bridge 1001 missing")) })

	entries := logs.FilterMessage("command failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.FatalLevel, entries[0].Level)
	assert.Equal(t, "starting fabric: bridge 1001 missing", entries[0].ContextMap()["error"])
}
