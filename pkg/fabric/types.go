package fabric

// NodeKind distinguishes switches from hosts.
type NodeKind string

const (
	KindSwitch NodeKind = "switch"
	KindHost   NodeKind = "host"
)

// NodeInfo describes a node returned by Driver.Node.
type NodeInfo struct {
	Name    string         `json:"name" yaml:"name"`
	Kind    NodeKind       `json:"kind" yaml:"kind"`
	Ports   map[int]string `json:"ports,omitempty" yaml:"ports,omitempty"` // OpenFlow port -> peer node
	Address string         `json:"address,omitempty" yaml:"address,omitempty"`
	CPU     float64        `json:"cpu,omitempty" yaml:"cpu,omitempty"` // host CPU share
}

// HostOpts are options for CreateHost.
type HostOpts struct {
	CPUShare float64 // fraction of one CPU, 0 = unlimited
}

// LinkSpec describes a link to create. A is the upper-layer end.
type LinkSpec struct {
	A            string
	B            string
	Bandwidth    float64 // Mbit/s, 0 = unshaped
	MaxQueueSize int     // packets, 0 = driver default
}

// LinkPorts are the OpenFlow port numbers a link landed on. A host end is 0.
type LinkPorts struct {
	A int
	B int
}
