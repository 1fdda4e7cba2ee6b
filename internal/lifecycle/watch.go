package lifecycle

import (
	"context"
	"errors"

	"github.com/safevisit/backend/internal/models"
	"github.com/safevisit/backend/internal/realtime"
)

// changeFilter selects row changes that may alter what this identity sees.
func (m *Manager) changeFilter() realtime.Filter {
	id := m.identity.ID
	own := realtime.ForCustomer(id)
	return func(c realtime.Change) bool {
		if own(c) || c.TechnicianID == id {
			return true
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.state.Role != models.RoleTechnician {
			return false
		}
		if c.TechnicianID == "" {
			return true
		}
		// the payload carries the new row: an open request taken by another technician
		// only matches through the visible set
		_, visible := m.findLocked(c.RequestID)
		return visible
	}
}

// Watch refetches on every relevant change until ctx is done or the manager closes.
func (m *Manager) Watch(ctx context.Context) error {
	if m.deps.Changes == nil {
		select {
		case <-ctx.Done():
		case <-m.stop:
		}
		return nil
	}
	sub := m.deps.Changes.Subscribe(m.changeFilter())
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.stop:
			return nil
		case _, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := m.Refresh(ctx); err != nil && !errors.Is(err, ErrClosed) {
				m.deps.Logger.Warn().Err(err).Msg("refresh after change")
			}
		}
	}
}
