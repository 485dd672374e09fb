package fattree

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Layer is the tier a switch sits in. The numeric value is the leading digit
// of the switch name.
type Layer int

const (
	LayerCore        Layer = 1
	LayerAggregation Layer = 2
	LayerEdge        Layer = 3
)

func (l Layer) String() string {
	switch l {
	case LayerCore:
		return "core"
	case LayerAggregation:
		return "aggregation"
	case LayerEdge:
		return "edge"
	default:
		return fmt.Sprintf("layer(%d)", int(l))
	}
}

// MarshalText renders the layer by name in YAML/JSON output.
func (l Layer) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Node is anything that can terminate a link: a switch or a host.
type Node interface {
	Name() string
}

// SwitchID identifies a switch by layer and 1-based ordinal within the layer.
type SwitchID struct {
	Layer   Layer
	Ordinal int
}

// Name returns the canonical switch name: the layer digit followed by the
// ordinal padded to three digits, e.g. "1001", "2010", "3008".
func (s SwitchID) Name() string {
	return fmt.Sprintf("%d%03d", int(s.Layer), s.Ordinal)
}

func (s SwitchID) String() string { return s.Name() }

// MarshalText renders the switch by name.
func (s SwitchID) MarshalText() ([]byte, error) { return []byte(s.Name()), nil }

// ParseSwitchName is the inverse of SwitchID.Name.
func ParseSwitchName(name string) (SwitchID, error) {
	if len(name) < 4 {
		return SwitchID{}, fmt.Errorf("switch name %q too short", name)
	}
	layer := Layer(name[0] - '0')
	if layer < LayerCore || layer > LayerEdge {
		return SwitchID{}, fmt.Errorf("switch name %q: unknown layer digit %q", name, name[0])
	}
	ord, err := strconv.Atoi(name[1:])
	if err != nil || ord < 1 {
		return SwitchID{}, fmt.Errorf("switch name %q: bad ordinal", name)
	}
	id := SwitchID{Layer: layer, Ordinal: ord}
	if id.Name() != name {
		return SwitchID{}, fmt.Errorf("switch name %q is not canonical (want %q)", name, id.Name())
	}
	return id, nil
}

// HostID identifies a host by the edge switch it hangs off (1-based) and its
// offset on that switch (1..Density).
type HostID struct {
	Edge    int
	Offset  int
	Density int
}

// Ordinal is the 1-based global host number.
func (h HostID) Ordinal() int {
	return (h.Edge-1)*h.Density + h.Offset
}

// Name returns "h" plus the global ordinal padded to three digits.
func (h HostID) Name() string {
	return fmt.Sprintf("h%03d", h.Ordinal())
}

func (h HostID) String() string { return h.Name() }

// MarshalText renders the host by name.
func (h HostID) MarshalText() ([]byte, error) { return []byte(h.Name()), nil }

// IP returns 10.<edge>.0.<offset>. Hosts on one edge switch share the
// second octet, so one edge switch is one /24 (and one /16 route).
func (h HostID) IP() netip.Addr {
	return netip.AddrFrom4([4]byte{10, byte(h.Edge), 0, byte(h.Offset)})
}

// EdgeSwitch returns the switch this host is attached to.
func (h HostID) EdgeSwitch() SwitchID {
	return SwitchID{Layer: LayerEdge, Ordinal: h.Edge}
}

// ParseHostName is the inverse of HostID.Name for the given density.
func ParseHostName(name string, density int) (HostID, error) {
	if density < 1 {
		return HostID{}, fmt.Errorf("density must be positive, got %d", density)
	}
	rest, ok := strings.CutPrefix(name, "h")
	if !ok || len(rest) < 3 {
		return HostID{}, fmt.Errorf("host name %q malformed", name)
	}
	ord, err := strconv.Atoi(rest)
	if err != nil || ord < 1 {
		return HostID{}, fmt.Errorf("host name %q: bad ordinal", name)
	}
	h := HostID{
		Edge:    (ord-1)/density + 1,
		Offset:  (ord-1)%density + 1,
		Density: density,
	}
	if h.Name() != name {
		return HostID{}, fmt.Errorf("host name %q is not canonical (want %q)", name, h.Name())
	}
	return h, nil
}

// EdgeSubnet is the /16 that aggregation and core switches route on for the
// given edge ordinal.
func EdgeSubnet(edge int) netip.Prefix {
	return netip.PrefixFrom(netip.AddrFrom4([4]byte{10, byte(edge), 0, 0}), 16)
}
