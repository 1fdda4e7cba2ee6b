package session

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type refresher interface {
	RefreshAll(ctx context.Context) error
}

// Poller refreshes every open session on a cron schedule, as a fallback for a missed change feed.
type Poller struct {
	c       *cron.Cron
	target  refresher
	timeout time.Duration
	logger  zerolog.Logger
}

// NewPoller returns nil for an empty schedule.
func NewPoller(schedule string, target refresher, timeout time.Duration, logger zerolog.Logger) (*Poller, error) {
	if schedule == "" {
		return nil, nil
	}
	p := &Poller{
		c:       cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		target:  target,
		timeout: timeout,
		logger:  logger,
	}
	if _, err := p.c.AddFunc(schedule, p.tick); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Poller) tick() {
	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.target.RefreshAll(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("scheduled refresh")
	}
}

func (p *Poller) Start() { p.c.Start() }

// Stop waits for a running refresh to finish.
func (p *Poller) Stop() {
	<-p.c.Stop().Done()
}
