//go:build linux

package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/glennswest/fattree/pkg/config"
	"github.com/glennswest/fattree/pkg/fabric"
	"github.com/glennswest/fattree/pkg/fabric/driver"
	"github.com/glennswest/fattree/pkg/flows"
	"github.com/glennswest/fattree/pkg/ofctl"
)

// newFabric returns the driver and control plane for cfg. The memory driver
// records rules instead of installing them.
func newFabric(cfg config.Config, of ofctl.Config, log *zap.SugaredLogger) (fabric.Driver, flows.ControlPlane, error) {
	switch cfg.Fabric.Driver {
	case "memory":
		return driver.NewMemory(nil, log), &flows.Recorder{}, nil
	case "linux":
		return driver.NewLinux(of, nil, log), ofctl.NewClient(of, nil, log), nil
	default:
		return nil, nil, fmt.Errorf("unknown fabric driver %q", cfg.Fabric.Driver)
	}
}
