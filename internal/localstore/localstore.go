package localstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/safevisit/backend/internal/config"
)

// Storage is the durable string key-value store behind session persistence.
type Storage interface {
	// Get returns ok=false when the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes the keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Scoped namespaces every key under prefix, so identities sharing one store never see each other's keys.
type Scoped struct {
	Storage
	Prefix string
}

func NewScoped(s Storage, identity string) *Scoped {
	return &Scoped{Storage: s, Prefix: "session:" + identity + ":"}
}

func (s *Scoped) key(k string) string { return s.Prefix + k }

func (s *Scoped) Get(ctx context.Context, key string) (string, bool, error) {
	return s.Storage.Get(ctx, s.key(key))
}

func (s *Scoped) Set(ctx context.Context, key, value string) error {
	return s.Storage.Set(ctx, s.key(key), value)
}

func (s *Scoped) Delete(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	return s.Storage.Delete(ctx, full...)
}

// Close is a no-op; the underlying store is shared.
func (s *Scoped) Close() error { return nil }

// Open builds the store selected by LOCAL_STORE.
func Open(cfg config.Config, logger zerolog.Logger) (Storage, error) {
	switch strings.ToLower(cfg.LocalStore) {
	case "", "badger", "memory":
		bc := BadgerConfig{Path: cfg.LocalStorePath, SyncWrites: true, Logger: &logger}
		if cfg.LocalStorePath == "" || strings.EqualFold(cfg.LocalStore, "memory") {
			logger.Warn().Msg("session state kept in memory only")
			bc = BadgerConfig{InMemory: true, Logger: &logger}
		}
		b, err := OpenBadger(bc)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "redis":
		r, err := OpenRedis(RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown LOCAL_STORE %q", cfg.LocalStore)
	}
}
