package roles

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/safevisit/backend/internal/db"
	"github.com/safevisit/backend/internal/models"
)

type Lookup interface {
	GetUserRole(ctx context.Context, userID string) (models.UserRole, error)
}

// Resolver maps an identity to its role. It never fails: unknown identities and lookup
// errors resolve to customer.
type Resolver struct {
	Lookup  Lookup
	Logger  zerolog.Logger
	Timeout time.Duration

	cache *cache.Cache
}

func NewResolver(lookup Lookup, ttl time.Duration, logger zerolog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{
		Lookup: lookup,
		Logger: logger,
		cache:  cache.New(ttl, 2*ttl),
	}
}

func (r *Resolver) Resolve(ctx context.Context, userID string) models.UserRole {
	if userID == "" {
		return models.RoleCustomer
	}
	if v, ok := r.cache.Get(userID); ok {
		return v.(models.UserRole)
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	role, err := r.Lookup.GetUserRole(ctx, userID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		r.Logger.Debug().Str("user_id", userID).Msg("no role row, defaulting to customer")
		role = models.RoleCustomer
	case err != nil:
		r.Logger.Warn().Err(err).Str("user_id", userID).Msg("role lookup failed, defaulting to customer")
		// failures are not cached so the next session retries the lookup
		return models.RoleCustomer
	case !role.Valid():
		r.Logger.Warn().Str("user_id", userID).Str("role", string(role)).Msg("unknown role, defaulting to customer")
		role = models.RoleCustomer
	}
	r.cache.SetDefault(userID, role)
	return role
}

func (r *Resolver) Invalidate(userID string) {
	r.cache.Delete(userID)
}
