//go:build !linux

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

func newFabric(cfg config.Config, of ofctl.Config, log *zap.SugaredLogger) (fabric.Driver, flows.ControlPlane, error) {
	switch cfg.Fabric.Driver {
	case "memory":
		return driver.NewMemory(nil, log), &flows.Recorder{}, nil
	case "linux":
		return nil, nil, fmt.Errorf("linux fabric driver: %w", fabric.ErrNotSupported)
	default:
		return nil, nil, fmt.Errorf("unknown fabric driver %q", cfg.Fabric.Driver)
	}
}
