// internal/state/schedule.go
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Schedule is a message sent to fixed recipients whenever its cron
// expression fires.
type Schedule struct {
	Name       string   `yaml:"name"`
	Schedule   string   `yaml:"schedule"`
	Recipients []string `yaml:"recipients"`
	Message    string   `yaml:"message"`
	Group      bool     `yaml:"group,omitempty"`
	Enabled    bool     `yaml:"enabled"`
}

// Validate reports a schedule that could never be sent.
func (s *Schedule) Validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("schedule name is required")
	case s.Schedule == "":
		return fmt.Errorf("schedule %s: cron expression is required", s.Name)
	case len(s.Recipients) == 0:
		return fmt.Errorf("schedule %s: at least one recipient is required", s.Name)
	case s.Message == "":
		return fmt.Errorf("schedule %s: message is required", s.Name)
	}
	return nil
}

// ScheduleStore is a YAML-file-backed store for schedules.
type ScheduleStore struct {
	path string
	mu   sync.RWMutex
}

// NewScheduleStore creates a store backed by the file at path.
func NewScheduleStore(path string) *ScheduleStore {
	return &ScheduleStore{path: path}
}

// DefaultSchedulePath returns the schedule file inside dataDir.
func DefaultSchedulePath(dataDir string) string {
	return filepath.Join(dataDir, "schedules.yaml")
}

// Path returns the file path used by this store.
func (s *ScheduleStore) Path() string {
	return s.path
}

// List returns all schedules. Returns an empty slice if the file doesn't exist.
func (s *ScheduleStore) List() ([]*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedules, err := s.load()
	if err != nil {
		return nil, err
	}
	if schedules == nil {
		return []*Schedule{}, nil
	}
	return schedules, nil
}

// Get finds a schedule by name.
func (s *ScheduleStore) Get(name string) (*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedules, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, sc := range schedules {
		if sc.Name == name {
			return sc, nil
		}
	}
	return nil, fmt.Errorf("schedule not found: %s", name)
}

// Add appends a schedule. Names are unique.
func (s *ScheduleStore) Add(sc *Schedule) error {
	if err := sc.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	schedules, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range schedules {
		if existing.Name == sc.Name {
			return fmt.Errorf("schedule already exists: %s", sc.Name)
		}
	}
	return s.save(append(schedules, sc))
}

// Remove deletes a schedule by name.
func (s *ScheduleStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules, err := s.load()
	if err != nil {
		return err
	}
	for i, sc := range schedules {
		if sc.Name == name {
			schedules = append(schedules[:i], schedules[i+1:]...)
			return s.save(schedules)
		}
	}
	return fmt.Errorf("schedule not found: %s", name)
}

// SetEnabled toggles the enabled flag of a schedule.
func (s *ScheduleStore) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules, err := s.load()
	if err != nil {
		return err
	}
	for _, sc := range schedules {
		if sc.Name == name {
			sc.Enabled = enabled
			return s.save(schedules)
		}
	}
	return fmt.Errorf("schedule not found: %s", name)
}

// load returns nil if the file doesn't exist.
func (s *ScheduleStore) load() ([]*Schedule, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read schedules file: %w", err)
	}

	var schedules []*Schedule
	if err := yaml.Unmarshal(data, &schedules); err != nil {
		return nil, fmt.Errorf("unmarshal schedules: %w", err)
	}
	return schedules, nil
}

func (s *ScheduleStore) save(schedules []*Schedule) error {
	data, err := yaml.Marshal(schedules)
	if err != nil {
		return fmt.Errorf("marshal schedules: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create schedules dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp schedules file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp schedules file: %w", err)
	}
	return nil
}
