package fabric

import (
	"context"
	"errors"
)

// ErrNotSupported is returned when a driver does not support an operation.
var ErrNotSupported = errors.New("operation not supported by this driver")

// Driver abstracts the emulated network the fat-tree is deployed on
// (in-memory for dry runs, Linux namespaces + Open vSwitch for real traffic).
// The Manager calls these methods instead of talking to a backend directly.
//
// Port contract: every CreateLink allocates the next OpenFlow port number on
// each switch endpoint, starting at 1, in call order.
type Driver interface {
	// Node creation
	CreateSwitch(ctx context.Context, name string) error
	CreateHost(ctx context.Context, name string, opts HostOpts) error

	// Links
	CreateLink(ctx context.Context, spec LinkSpec) (LinkPorts, error)

	// Lifecycle
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Host addressing
	SetIP(ctx context.Context, host, cidr string) error

	// Introspection
	Node(name string) (NodeInfo, error)
	Name() string
	Capabilities() DriverCapabilities
}

// DriverCapabilities advertises which optional features a driver supports.
type DriverCapabilities struct {
	Shaping    bool // per-link bandwidth and queue limits are enforced
	Namespaces bool // hosts get their own network namespace
	OpenFlow   bool // switches accept OpenFlow rules
}
