// Package source tracks upstream providers, their priority, and their health.
package source

import (
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cbdata/internal/config"
)

// Status is the health state of a source.
type Status string

const (
	StatusActive      Status = "active"
	StatusInactive    Status = "inactive"
	StatusError       Status = "error"
	StatusMaintenance Status = "maintenance"
)

// Source is a provider's configuration plus its mutable health state.
// The Registry owns these values; callers always receive copies.
type Source struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Priority     int           `json:"priority"`
	Status       Status        `json:"status"`
	RequestDelay time.Duration `json:"request_delay"`
	MaxRetries   int           `json:"max_retries"`
	Timeout      time.Duration `json:"timeout"`
	BaseURL      string        `json:"base_url,omitempty"`
	LastSuccess  *time.Time    `json:"last_success,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	ErrorCount   int           `json:"error_count"`
}

// Registry is the ordered set of configured sources.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*Source
	order   []string // insertion order for deterministic iteration

	nowFunc func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]*Source),
		nowFunc: time.Now,
	}
}

// FromConfig builds a registry from configured sources. Disabled sources are
// registered in maintenance so they show up in reports but never serve.
func FromConfig(cfgs []config.SourceConfig) *Registry {
	r := NewRegistry()
	for _, c := range cfgs {
		status := StatusActive
		if !c.Enabled {
			status = StatusMaintenance
		}
		r.Register(Source{
			ID:           c.ID,
			Name:         c.Name,
			Priority:     c.Priority,
			Status:       status,
			RequestDelay: time.Duration(c.RequestDelayMs) * time.Millisecond,
			MaxRetries:   c.MaxRetries,
			Timeout:      time.Duration(c.TimeoutSecs) * time.Second,
			BaseURL:      c.BaseURL,
		})
	}
	return r
}

// Register adds or replaces a source.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.MaxRetries <= 0 {
		s.MaxRetries = 3
	}
	if s.Status == "" {
		s.Status = StatusActive
	}
	if _, exists := r.sources[s.ID]; !exists {
		r.order = append(r.order, s.ID)
	}
	r.sources[s.ID] = &s
}

// Get returns a copy of the named source.
func (r *Registry) Get(id string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sources[id]
	if !ok {
		return Source{}, eris.Errorf("source: unknown source %q", id)
	}
	return *s, nil
}

// All returns copies of every source in registration order.
func (r *Registry) All() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Source, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.sources[id])
	}
	return out
}

// ListActiveByPriority returns the active sources sorted by ascending
// priority. Ties keep registration order.
func (r *Registry) ListActiveByPriority() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Source
	for _, id := range r.order {
		if s := r.sources[id]; s.Status == StatusActive {
			out = append(out, *s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// RecordOutcome updates a source's health. A success clears the error
// counter and reactivates the source. A failure increments the counter and
// deactivates the source once it reaches MaxRetries; below the threshold
// the status is left unchanged.
func (r *Registry) RecordOutcome(id string, success bool, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sources[id]
	if !ok {
		return eris.Errorf("source: unknown source %q", id)
	}

	if success {
		now := r.nowFunc().UTC()
		s.ErrorCount = 0
		s.Status = StatusActive
		s.LastSuccess = &now
		s.LastError = ""
		return nil
	}

	s.ErrorCount++
	s.LastError = errMsg
	if s.ErrorCount >= s.MaxRetries && s.Status == StatusActive {
		s.Status = StatusInactive
		zap.L().Warn("source deactivated",
			zap.String("component", "source.registry"),
			zap.String("source", id),
			zap.Int("error_count", s.ErrorCount),
			zap.String("last_error", errMsg),
		)
	}
	return nil
}

// Reset clears a source's error state and reactivates it.
func (r *Registry) Reset(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sources[id]
	if !ok {
		return eris.Errorf("source: unknown source %q", id)
	}
	s.ErrorCount = 0
	s.LastError = ""
	s.Status = StatusActive
	return nil
}

// SetStatus forces a source into the given status.
func (r *Registry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sources[id]
	if !ok {
		return eris.Errorf("source: unknown source %q", id)
	}
	s.Status = status
	return nil
}
