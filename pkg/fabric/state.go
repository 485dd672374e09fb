package fabric

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/glennswest/fattree/pkg/flows"
)

// DeploymentRecord is the persisted summary of one deployment.
type DeploymentRecord struct {
	RunID     string            `yaml:"runId"`
	Driver    string            `yaml:"driver"`
	StartedAt time.Time         `yaml:"startedAt"`
	StoppedAt *time.Time        `yaml:"stoppedAt,omitempty"`
	Pods      int               `yaml:"pods"`
	Density   int               `yaml:"density"`
	Switches  int               `yaml:"switches"`
	Links     int               `yaml:"links"`
	Hosts     map[string]string `yaml:"hosts"` // host name -> address
	Install   flows.Report      `yaml:"install"`
}

// ReadRecord loads a record written by a previous deployment.
func ReadRecord(path string) (*DeploymentRecord, error) {
	s := newStateStore(path)
	if err := s.load(); err != nil {
		return nil, err
	}
	rec := s.get()
	if rec == nil {
		return nil, fmt.Errorf("no deployment record in %s", path)
	}
	return rec, nil
}

// stateStore handles loading and saving the DeploymentRecord to a YAML file.
// An empty path disables persistence.
type stateStore struct {
	mu   sync.RWMutex
	path string
	data *DeploymentRecord
}

func newStateStore(path string) *stateStore {
	return &stateStore{path: path}
}

func (s *stateStore) load() error {
	if s.path == "" {
		return nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var rec DeploymentRecord
	if err := yaml.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("parsing deployment record: %w", err)
	}
	if rec.Hosts == nil {
		rec.Hosts = make(map[string]string)
	}

	s.mu.Lock()
	s.data = &rec
	s.mu.Unlock()
	return nil
}

func (s *stateStore) save() error {
	if s.path == "" {
		return nil
	}

	s.mu.RLock()
	raw, err := yaml.Marshal(s.data)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshaling deployment record: %w", err)
	}

	if err := os.WriteFile(s.path, raw, 0644); err != nil {
		return fmt.Errorf("writing deployment record to %s: %w", s.path, err)
	}
	return nil
}

func (s *stateStore) get() *DeploymentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

func (s *stateStore) set(rec *DeploymentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = rec
}

func (s *stateStore) markStopped(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data != nil {
		s.data.StoppedAt = &at
	}
}
