package roles

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safevisit/backend/internal/db"
	"github.com/safevisit/backend/internal/models"
)

func TestResolveDefaultsToCustomer(t *testing.T) {
	ctx := context.Background()
	mem := db.NewMemStore(nil)
	r := NewResolver(mem, time.Minute, zerolog.Nop())

	assert.Equal(t, models.RoleCustomer, r.Resolve(ctx, "nobody"))
	assert.Equal(t, models.RoleCustomer, r.Resolve(ctx, ""))

	mem.InjectError("GetUserRole", errors.New("connection refused"))
	assert.Equal(t, models.RoleCustomer, r.Resolve(ctx, "u-failing"))
}

func TestResolveCachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	mem := db.NewMemStore(nil)
	require.NoError(t, mem.SetUserRole(ctx, "t1", models.RoleTechnician))
	r := NewResolver(mem, time.Minute, zerolog.Nop())

	assert.Equal(t, models.RoleTechnician, r.Resolve(ctx, "t1"))

	require.NoError(t, mem.SetUserRole(ctx, "t1", models.RoleAdmin))
	assert.Equal(t, models.RoleTechnician, r.Resolve(ctx, "t1"), "cached value")

	r.Invalidate("t1")
	assert.Equal(t, models.RoleAdmin, r.Resolve(ctx, "t1"))
}

func TestResolveDoesNotCacheFailures(t *testing.T) {
	ctx := context.Background()
	mem := db.NewMemStore(nil)
	require.NoError(t, mem.SetUserRole(ctx, "t1", models.RoleTechnician))
	r := NewResolver(mem, time.Minute, zerolog.Nop())

	mem.InjectError("GetUserRole", errors.New("timeout"))
	assert.Equal(t, models.RoleCustomer, r.Resolve(ctx, "t1"))

	mem.InjectError("GetUserRole", nil)
	assert.Equal(t, models.RoleTechnician, r.Resolve(ctx, "t1"))
}
