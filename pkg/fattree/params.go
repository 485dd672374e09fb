package fattree

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter is returned for pod/density values that cannot
	// describe a fat-tree.
	ErrInvalidParameter = errors.New("invalid fat-tree parameter")

	// ErrEnumeration means link wiring indexed past a switch or host list.
	// It indicates a mismatch between the parameters and the node sets.
	ErrEnumeration = errors.New("fat-tree enumeration out of range")
)

// Edge ordinals and host offsets are IPv4 octets.
const (
	maxEdgeSwitches = 255
	maxDensity      = 254
)

// Params are the structural sizes derived from pod count k and density d.
type Params struct {
	Pods      int `json:"pods" yaml:"pods"`
	Density   int `json:"density" yaml:"density"`
	Half      int `json:"half" yaml:"half"` // k/2: uplinks per agg/edge switch
	CoreCount int `json:"coreCount" yaml:"coreCount"`
	AggCount  int `json:"aggCount" yaml:"aggCount"`
	EdgeCount int `json:"edgeCount" yaml:"edgeCount"`
	HostCount int `json:"hostCount" yaml:"hostCount"`
}

// ComputeParameters derives switch and host counts for a k-pod fat-tree with
// d hosts per edge switch.
func ComputeParameters(k, d int) (Params, error) {
	if k < 2 || k%2 != 0 {
		return Params{}, fmt.Errorf("%w: pod count must be even and >= 2, got %d", ErrInvalidParameter, k)
	}
	if d < 1 {
		return Params{}, fmt.Errorf("%w: density must be >= 1, got %d", ErrInvalidParameter, d)
	}
	if d > maxDensity {
		return Params{}, fmt.Errorf("%w: density %d exceeds %d hosts per /24", ErrInvalidParameter, d, maxDensity)
	}

	half := k / 2
	p := Params{
		Pods:      k,
		Density:   d,
		Half:      half,
		CoreCount: half * half,
		AggCount:  k * k / 2,
		EdgeCount: k * k / 2,
	}
	p.HostCount = p.EdgeCount * d

	if p.EdgeCount > maxEdgeSwitches {
		return Params{}, fmt.Errorf("%w: %d edge switches do not fit in one address octet (k=%d)", ErrInvalidParameter, p.EdgeCount, k)
	}
	return p, nil
}
