package fabric

import (
	"encoding/json"
	"net/http"
	"net/netip"

	"github.com/glennswest/fattree/pkg/fattree"
	"github.com/glennswest/fattree/pkg/flows"
)

// RegisterRoutes adds the read-only deployment API to the given mux.
//
//	GET /api/v1/topology                 parameters and link list
//	GET /api/v1/switches                 switches with their port tables
//	GET /api/v1/switches/{name}/rules    groups and flows for one switch
//	GET /api/v1/hosts                    hosts with edge switch and address
//	GET /api/v1/hosts/{ip}               the host holding one address
//	GET /api/v1/allocations[?pool=edge]  IPAM dump, optionally one edge pool
//	GET /api/v1/report                   rule installation report
//	GET /api/v1/audit                    installed vs planned flow counts
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/topology", m.handleTopology)
	mux.HandleFunc("GET /api/v1/switches", m.handleSwitches)
	mux.HandleFunc("GET /api/v1/switches/{name}/rules", m.handleSwitchRules)
	mux.HandleFunc("GET /api/v1/hosts", m.handleHosts)
	mux.HandleFunc("GET /api/v1/hosts/{ip}", m.handleHostByIP)
	mux.HandleFunc("GET /api/v1/allocations", m.handleAllocations)
	mux.HandleFunc("GET /api/v1/report", m.handleReport)
	mux.HandleFunc("GET /api/v1/audit", m.handleAudit)
}

// deployment returns the live deployment or writes 503.
func (m *Manager) deployment(w http.ResponseWriter) *Deployment {
	dep := m.Current()
	if dep == nil {
		http.Error(w, "no active deployment", http.StatusServiceUnavailable)
	}
	return dep
}

func (m *Manager) handleTopology(w http.ResponseWriter, r *http.Request) {
	dep := m.deployment(w)
	if dep == nil {
		return
	}

	type linkView struct {
		A         string       `json:"a"`
		B         string       `json:"b"`
		Tier      fattree.Tier `json:"tier"`
		Bandwidth float64      `json:"bandwidth"`
	}
	type topologyView struct {
		RunID  string         `json:"runId"`
		Params fattree.Params `json:"params"`
		Links  []linkView     `json:"links"`
	}

	topo := dep.Topology
	out := topologyView{RunID: dep.RunID, Params: topo.Params}
	for _, l := range topo.Links {
		out.Links = append(out.Links, linkView{
			A:         l.A.Name(),
			B:         l.B.Name(),
			Tier:      l.Tier,
			Bandwidth: l.Bandwidth,
		})
	}
	writeJSON(w, out)
}

func (m *Manager) handleSwitches(w http.ResponseWriter, r *http.Request) {
	dep := m.deployment(w)
	if dep == nil {
		return
	}

	var out []NodeInfo
	for _, sw := range dep.Topology.Switches() {
		n, err := m.driver.Node(sw.Name())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out = append(out, n)
	}
	writeJSON(w, out)
}

func (m *Manager) handleSwitchRules(w http.ResponseWriter, r *http.Request) {
	dep := m.deployment(w)
	if dep == nil {
		return
	}

	id, err := fattree.ParseSwitchName(r.PathValue("name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sr, ok := dep.Plan.Rules(id)
	if !ok {
		http.Error(w, "switch not found", http.StatusNotFound)
		return
	}

	type rulesView struct {
		Switch string            `json:"switch"`
		Groups []flows.GroupRule `json:"groups"`
		Flows  []flows.FlowRule  `json:"flows"`
		Specs  []string          `json:"specs"` // ovs-ofctl syntax, groups first
	}
	out := rulesView{Switch: id.Name(), Groups: sr.Groups, Flows: sr.Flows}
	for _, g := range sr.Groups {
		out.Specs = append(out.Specs, g.Spec())
	}
	for _, f := range sr.Flows {
		out.Specs = append(out.Specs, f.Spec())
	}
	writeJSON(w, out)
}

type hostView struct {
	Name    string `json:"name"`
	IP      string `json:"ip"`
	Edge    string `json:"edge"`
	Address string `json:"address"`
}

func (m *Manager) hostView(h fattree.HostID) hostView {
	hv := hostView{Name: h.Name(), IP: h.IP().String(), Edge: h.EdgeSwitch().Name()}
	if n, err := m.driver.Node(h.Name()); err == nil {
		hv.Address = n.Address
	}
	return hv
}

func (m *Manager) handleHosts(w http.ResponseWriter, r *http.Request) {
	dep := m.deployment(w)
	if dep == nil {
		return
	}

	var out []hostView
	for _, h := range dep.Topology.Hosts {
		out = append(out, m.hostView(h))
	}
	writeJSON(w, out)
}

func (m *Manager) handleHostByIP(w http.ResponseWriter, r *http.Request) {
	if m.deployment(w) == nil {
		return
	}

	ip, err := netip.ParseAddr(r.PathValue("ip"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h, _, ok := m.LookupHost(ip)
	if !ok {
		http.Error(w, "no host holds "+ip.String(), http.StatusNotFound)
		return
	}
	writeJSON(w, m.hostView(h))
}

func (m *Manager) handleAllocations(w http.ResponseWriter, r *http.Request) {
	pool := r.URL.Query().Get("pool")
	if pool == "" {
		writeJSON(w, m.GetAllocations())
		return
	}
	out, ok := m.EdgeAllocations(pool)
	if !ok {
		http.Error(w, "unknown pool "+pool, http.StatusNotFound)
		return
	}
	writeJSON(w, out)
}

func (m *Manager) handleReport(w http.ResponseWriter, r *http.Request) {
	dep := m.deployment(w)
	if dep == nil {
		return
	}

	type reportView struct {
		RunID  string       `json:"runId"`
		Driver string       `json:"driver"`
		Report flows.Report `json:"report"`
		Errors []string     `json:"errors,omitempty"`
	}
	out := reportView{RunID: dep.RunID, Driver: dep.Driver, Report: dep.Report}
	for _, f := range dep.Report.Failures {
		out.Errors = append(out.Errors, f.Error())
	}
	writeJSON(w, out)
}

func (m *Manager) handleAudit(w http.ResponseWriter, r *http.Request) {
	if m.deployment(w) == nil {
		return
	}
	results, err := m.Audit(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotImplemented)
		return
	}
	writeJSON(w, results)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
