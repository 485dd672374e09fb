package fabric

import (
	"fmt"
	"sort"
	"sync"
)

// Registry tracks fabric nodes and the ports allocated on them. Drivers use
// it to honour the port contract; the HTTP API reads it while a deployment
// is live.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*NodeInfo
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		nodes: make(map[string]*NodeInfo),
	}
}

// AddNode registers a node. Returns error if the name is already taken.
func (r *Registry) AddNode(n NodeInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[n.Name]; exists {
		return fmt.Errorf("node %q already registered", n.Name)
	}
	if n.Kind == KindSwitch && n.Ports == nil {
		n.Ports = make(map[int]string)
	}
	r.nodes[n.Name] = &n
	return nil
}

// RemoveNode unregisters a node by name.
func (r *Registry) RemoveNode(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, name)
}

// GetNode returns a copy of a node by name.
func (r *Registry) GetNode(name string) (NodeInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[name]
	if !ok {
		return NodeInfo{}, fmt.Errorf("node %q not found", name)
	}
	return copyNode(n), nil
}

// ListNodes returns all registered nodes sorted by name.
func (r *Registry) ListNodes() []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]NodeInfo, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, copyNode(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NodeCount returns the number of registered nodes.
func (r *Registry) NodeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// NodesOfKind returns nodes of the given kind sorted by name.
func (r *Registry) NodesOfKind(kind NodeKind) []NodeInfo {
	var out []NodeInfo
	for _, n := range r.ListNodes() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// Connect records a link between a and b and returns the port numbers
// allocated on each side (0 for a host).
func (r *Registry) Connect(a, b string) (LinkPorts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	na, ok := r.nodes[a]
	if !ok {
		return LinkPorts{}, fmt.Errorf("node %q not found", a)
	}
	nb, ok := r.nodes[b]
	if !ok {
		return LinkPorts{}, fmt.Errorf("node %q not found", b)
	}
	return LinkPorts{A: attach(na, b), B: attach(nb, a)}, nil
}

// SetAddress records the address assigned to a host.
func (r *Registry) SetAddress(name, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[name]
	if !ok {
		return fmt.Errorf("node %q not found", name)
	}
	if n.Kind != KindHost {
		return fmt.Errorf("node %q is a %s, not a host", name, n.Kind)
	}
	n.Address = addr
	return nil
}

// attach allocates the next port on a switch. Hosts have a single interface
// and report port 0.
func attach(n *NodeInfo, peer string) int {
	if n.Kind != KindSwitch {
		return 0
	}
	port := len(n.Ports) + 1
	n.Ports[port] = peer
	return port
}

func copyNode(n *NodeInfo) NodeInfo {
	out := *n
	if n.Ports != nil {
		out.Ports = make(map[int]string, len(n.Ports))
		for k, v := range n.Ports {
			out.Ports[k] = v
		}
	}
	return out
}
