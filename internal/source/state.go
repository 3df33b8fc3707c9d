package source

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/cbdata/internal/model"
)

// StateStore persists source health between processes.
type StateStore interface {
	LoadSourceStates(ctx context.Context) ([]model.SourceState, error)
	SaveSourceStates(ctx context.Context, states []model.SourceState) error
}

// States snapshots the health of every source.
func (r *Registry) States() []model.SourceState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.nowFunc().UTC()
	out := make([]model.SourceState, 0, len(r.order))
	for _, id := range r.order {
		s := r.sources[id]
		out = append(out, model.SourceState{
			ID:          s.ID,
			Status:      string(s.Status),
			ErrorCount:  s.ErrorCount,
			LastError:   s.LastError,
			LastSuccess: s.LastSuccess,
			UpdatedAt:   now,
		})
	}
	return out
}

// Hydrate applies persisted health to registered sources. Unknown ids are
// ignored. Sources configured as disabled stay in maintenance.
func (r *Registry) Hydrate(states []model.SourceState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, st := range states {
		s, ok := r.sources[st.ID]
		if !ok {
			continue
		}
		s.ErrorCount = st.ErrorCount
		s.LastError = st.LastError
		s.LastSuccess = st.LastSuccess
		if s.Status != StatusMaintenance && st.Status != "" {
			s.Status = Status(st.Status)
		}
	}
}

// Load hydrates the registry from st. A load failure leaves the configured
// defaults in place.
func (r *Registry) Load(ctx context.Context, st StateStore) {
	states, err := st.LoadSourceStates(ctx)
	if err != nil {
		zap.L().Warn("load source states failed, using configured defaults",
			zap.String("component", "source.registry"), zap.Error(err))
		return
	}
	r.Hydrate(states)
}

// Save persists the registry's health to st.
func (r *Registry) Save(ctx context.Context, st StateStore) error {
	return st.SaveSourceStates(ctx, r.States())
}

// Report is the source-status artifact.
type Report struct {
	GeneratedAt  time.Time `json:"generated_at"`
	TotalSources int       `json:"total_sources"`
	ActiveCount  int       `json:"active_sources"`
	Sources      []Source  `json:"sources"`
}

// StatusReport summarizes every source for the status artifact.
func (r *Registry) StatusReport() Report {
	all := r.All()
	rep := Report{
		GeneratedAt:  r.nowFunc().UTC(),
		TotalSources: len(all),
		Sources:      all,
	}
	for _, s := range all {
		if s.Status == StatusActive {
			rep.ActiveCount++
		}
	}
	return rep
}
