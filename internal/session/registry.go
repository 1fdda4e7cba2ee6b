package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/safevisit/backend/internal/db"
	"github.com/safevisit/backend/internal/lifecycle"
	"github.com/safevisit/backend/internal/localstore"
	"github.com/safevisit/backend/internal/models"
	"github.com/safevisit/backend/internal/realtime"
	"github.com/safevisit/backend/internal/roles"
)

type Registry struct {
	Gateway db.Gateway
	Storage localstore.Storage
	Roles   *roles.Resolver
	Changes *realtime.Hub
	Logger  zerolog.Logger
	Timeout time.Duration
	Now     func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	sessions map[string]*lifecycle.Manager
	baseCtx  context.Context
	cancel   context.CancelFunc
	watchers sync.WaitGroup
}

func NewRegistry(gw db.Gateway, store localstore.Storage, resolver *roles.Resolver, changes *realtime.Hub, timeout time.Duration, logger zerolog.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		Gateway:  gw,
		Storage:  store,
		Roles:    resolver,
		Changes:  changes,
		Logger:   logger,
		Timeout:  timeout,
		sessions: map[string]*lifecycle.Manager{},
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Lookup returns the open session without creating one.
func (r *Registry) Lookup(userID string) (*lifecycle.Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.sessions[userID]
	return m, ok
}

// Session returns the identity's manager, opening it on first use: role resolution, restore of
// the durable keys, a first derivation pass, then the change-feed watch.
func (r *Registry) Session(ctx context.Context, id lifecycle.Identity) (*lifecycle.Manager, error) {
	if id.ID == "" {
		return nil, lifecycle.ErrNoIdentity
	}
	if m, ok := r.Lookup(id.ID); ok {
		return m, nil
	}
	v, err, _ := r.group.Do(id.ID, func() (interface{}, error) {
		if m, ok := r.Lookup(id.ID); ok {
			return m, nil
		}
		return r.open(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*lifecycle.Manager), nil
}

func (r *Registry) open(ctx context.Context, id lifecycle.Identity) (*lifecycle.Manager, error) {
	m, err := lifecycle.New(lifecycle.Deps{
		Gateway: r.Gateway,
		Storage: localstore.NewScoped(r.Storage, id.ID),
		Changes: r.Changes,
		Logger:  r.Logger,
		Timeout: r.Timeout,
		Now:     r.Now,
	}, id)
	if err != nil {
		return nil, err
	}
	log := r.Logger.With().Str("user_id", id.ID).Logger()

	if err := m.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("restore session state")
	}
	if err := m.SetRole(ctx, r.Roles.Resolve(ctx, id.ID)); err != nil {
		return nil, err
	}
	if err := m.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial refresh")
	}

	r.mu.Lock()
	if r.baseCtx.Err() != nil {
		r.mu.Unlock()
		m.Close()
		return nil, lifecycle.ErrClosed
	}
	r.sessions[id.ID] = m
	r.watchers.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.watchers.Done()
		if err := m.Watch(r.baseCtx); err != nil {
			log.Error().Err(err).Msg("session watch stopped")
		}
	}()
	log.Info().Str("role", string(m.State().Role)).Msg("session opened")
	return m, nil
}

// Logout resets and closes the session and forgets it.
func (r *Registry) Logout(ctx context.Context, userID string) error {
	r.mu.Lock()
	m, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if !ok {
		// nothing in memory, but durable keys may remain from an earlier process
		return localstore.NewScoped(r.Storage, userID).Delete(ctx, lifecycle.DurableKeys()...)
	}
	return m.Logout(ctx)
}

// RoleChanged drops the cached role and re-applies it to an open session.
func (r *Registry) RoleChanged(ctx context.Context, userID string) error {
	r.Roles.Invalidate(userID)
	m, ok := r.Lookup(userID)
	if !ok {
		return nil
	}
	if err := m.SetRole(ctx, r.Roles.Resolve(ctx, userID)); err != nil {
		return err
	}
	return m.Refresh(ctx)
}

// RefreshAll runs a derivation pass on every open session.
func (r *Registry) RefreshAll(ctx context.Context) error {
	r.mu.Lock()
	managers := make([]*lifecycle.Manager, 0, len(r.sessions))
	for _, m := range r.sessions {
		managers = append(managers, m)
	}
	r.mu.Unlock()

	var failed int
	for _, m := range managers {
		if err := m.Refresh(ctx); err != nil && !errors.Is(err, lifecycle.ErrClosed) {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("refresh: %d of %d sessions failed", failed, len(managers))
	}
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close closes every session and waits for their watchers.
func (r *Registry) Close() {
	r.mu.Lock()
	r.cancel()
	sessions := r.sessions
	r.sessions = map[string]*lifecycle.Manager{}
	r.mu.Unlock()
	for _, m := range sessions {
		m.Close()
	}
	r.watchers.Wait()
}

// HomeRoute is the landing screen for a viewer.
func HomeRoute(role models.UserRole, authenticated bool) string {
	if !authenticated {
		return "/auth"
	}
	if role == models.RoleTechnician {
		return "/technician"
	}
	return "/home"
}
