package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/safevisit/backend/internal/realtime"
)

const ChangeChannel = "service_requests_changes"

// Listener holds one pooled connection on LISTEN and republishes service_requests changes to the hub.
type Listener struct {
	Pool       *pgxpool.Pool
	Hub        *realtime.Hub
	Logger     zerolog.Logger
	RetryDelay time.Duration
}

// Run blocks until ctx is done, reconnecting after connection loss.
func (l *Listener) Run(ctx context.Context) error {
	if l.RetryDelay <= 0 {
		l.RetryDelay = 2 * time.Second
	}
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.Logger.Warn().Err(err).Dur("retry_in", l.RetryDelay).Msg("change listener disconnected")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.RetryDelay):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.Pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		unlistenCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = conn.Exec(unlistenCtx, "UNLISTEN *")
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return err
	}
	l.Logger.Info().Str("channel", ChangeChannel).Msg("listening for changes")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		change, err := DecodeChange(n.Payload)
		if err != nil {
			l.Logger.Error().Err(err).Str("payload", n.Payload).Msg("bad change payload")
			continue
		}
		l.Hub.Publish(change)
	}
}

func DecodeChange(payload string) (realtime.Change, error) {
	var c realtime.Change
	err := json.Unmarshal([]byte(payload), &c)
	return c, err
}
