package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safevisit/backend/internal/db"
	"github.com/safevisit/backend/internal/lifecycle"
	"github.com/safevisit/backend/internal/localstore"
	"github.com/safevisit/backend/internal/models"
	"github.com/safevisit/backend/internal/realtime"
	"github.com/safevisit/backend/internal/roles"
)

func newRegistry(t *testing.T) (*Registry, *db.MemStore, localstore.Storage) {
	t.Helper()
	hub := realtime.NewHub()
	mem := db.NewMemStore(hub)
	store, err := localstore.OpenBadger(localstore.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	resolver := roles.NewResolver(mem, time.Minute, zerolog.Nop())
	reg := NewRegistry(mem, store, resolver, hub, time.Second, zerolog.Nop())
	t.Cleanup(reg.Close)
	return reg, mem, store
}

func TestRegistryOpensOneSessionPerIdentity(t *testing.T) {
	reg, mem, _ := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, mem.SetUserRole(ctx, "tech-1", models.RoleTechnician))

	var wg sync.WaitGroup
	got := make([]*lifecycle.Manager, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := reg.Session(ctx, lifecycle.Identity{ID: "tech-1"})
			assert.NoError(t, err)
			got[i] = m
		}(i)
	}
	wg.Wait()
	for _, m := range got {
		assert.Same(t, got[0], m)
	}
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, models.RoleTechnician, got[0].State().Role)

	_, err := reg.Session(ctx, lifecycle.Identity{})
	assert.ErrorIs(t, err, lifecycle.ErrNoIdentity)
}

func TestRegistryRestoresAndReconciles(t *testing.T) {
	reg, mem, _ := newRegistry(t)
	ctx := context.Background()
	id := lifecycle.Identity{ID: "cust-1", Email: "c@example.com"}

	m, err := reg.Session(ctx, id)
	require.NoError(t, err)
	created, err := m.RequestService(ctx, models.ServiceDraft{ServiceType: "도배", Location: "서울시 마포구", ScheduledDate: "2026-10-21", ScheduledTime: "10:00"}, "")
	require.NoError(t, err)
	assert.Equal(t, "c@example.com", created.CustomerName)

	// simulate a process restart: the in-memory session goes away, durable keys stay
	reg.mu.Lock()
	delete(reg.sessions, id.ID)
	reg.mu.Unlock()
	m.Close()
	require.Eventually(t, func() bool { return reg.Changes.Len() == 0 }, time.Second, 5*time.Millisecond)

	again, err := reg.Session(ctx, id)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return reg.Changes.Len() == 1 }, time.Second, 5*time.Millisecond)
	st := again.State()
	assert.Equal(t, lifecycle.StatusPending, st.Status)
	assert.Equal(t, created.ID, st.CurrentServiceID)

	// remote truth wins over restored keys
	tech := "tech-9"
	_, err = mem.UpdateServiceRequest(ctx, created.ID, models.ServiceRequestUpdate{Status: models.RequestAccepted, TechnicianID: &tech})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return again.State().Status == lifecycle.StatusAccepted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegistryLogoutRemovesSessionAndKeys(t *testing.T) {
	reg, _, store := newRegistry(t)
	ctx := context.Background()
	id := lifecycle.Identity{ID: "cust-1"}

	m, err := reg.Session(ctx, id)
	require.NoError(t, err)
	require.NoError(t, reg.Logout(ctx, id.ID))
	assert.True(t, m.Closed())
	assert.Equal(t, 0, reg.Len())

	scoped := localstore.NewScoped(store, id.ID)
	for _, k := range lifecycle.DurableKeys() {
		_, ok, err := scoped.Get(ctx, k)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	// logout without an open session clears leftovers
	require.NoError(t, scoped.Set(ctx, lifecycle.KeyServiceStatus, "pending"))
	require.NoError(t, reg.Logout(ctx, id.ID))
	_, ok, err := scoped.Get(ctx, lifecycle.KeyServiceStatus)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistryRoleChanged(t *testing.T) {
	reg, mem, _ := newRegistry(t)
	ctx := context.Background()

	m, err := reg.Session(ctx, lifecycle.Identity{ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleCustomer, m.State().Role)

	require.NoError(t, mem.SetUserRole(ctx, "u1", models.RoleTechnician))
	require.NoError(t, reg.RoleChanged(ctx, "u1"))
	assert.Equal(t, models.RoleTechnician, m.State().Role)
}

func TestRefreshAllReportsFailures(t *testing.T) {
	reg, mem, _ := newRegistry(t)
	ctx := context.Background()
	_, err := reg.Session(ctx, lifecycle.Identity{ID: "a"})
	require.NoError(t, err)
	_, err = reg.Session(ctx, lifecycle.Identity{ID: "b"})
	require.NoError(t, err)

	require.NoError(t, reg.RefreshAll(ctx))
	mem.InjectError("ListServiceRequests", errors.New("down"))
	assert.Error(t, reg.RefreshAll(ctx))
}

func TestDraftsConsumedOnce(t *testing.T) {
	d := NewDrafts(time.Minute)
	draft := models.ServiceDraft{ServiceType: "전기/조명", Location: "서울시 강남구", ScheduledDate: "2026-10-19", ScheduledTime: "14:00"}

	_, ok := d.Take("u1")
	assert.False(t, ok)

	d.Put("u1", draft)
	peeked, ok := d.Peek("u1")
	require.True(t, ok)
	assert.Equal(t, draft, peeked)

	got, ok := d.Take("u1")
	require.True(t, ok)
	assert.Equal(t, draft, got)
	_, ok = d.Take("u1")
	assert.False(t, ok)

	d.Put("u2", draft)
	d.Discard("u2")
	_, ok = d.Peek("u2")
	assert.False(t, ok)
}

func TestDraftsExpire(t *testing.T) {
	d := NewDrafts(20 * time.Millisecond)
	d.Put("u1", models.ServiceDraft{ServiceType: "배관"})
	time.Sleep(50 * time.Millisecond)
	_, ok := d.Take("u1")
	assert.False(t, ok)
}

type countingRefresher struct {
	mu sync.Mutex
	n  int
}

func (c *countingRefresher) RefreshAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

func (c *countingRefresher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestPoller(t *testing.T) {
	p, err := NewPoller("", &countingRefresher{}, time.Second, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = NewPoller("not a schedule", &countingRefresher{}, time.Second, zerolog.Nop())
	assert.Error(t, err)

	target := &countingRefresher{}
	p, err = NewPoller("@every 1s", target, time.Second, zerolog.Nop())
	require.NoError(t, err)
	p.tick()
	assert.Equal(t, 1, target.count())
	p.Start()
	p.Stop()
}

func TestHomeRoute(t *testing.T) {
	assert.Equal(t, "/auth", HomeRoute(models.RoleTechnician, false))
	assert.Equal(t, "/home", HomeRoute(models.RoleCustomer, true))
	assert.Equal(t, "/home", HomeRoute(models.RoleAdmin, true))
	assert.Equal(t, "/technician", HomeRoute(models.RoleTechnician, true))
}
