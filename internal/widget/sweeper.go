package widget

import (
	"context"
	"fmt"
	"time"

	"github.com/samhotchkiss/agentdesk/internal/metrics"
)

const defaultSweepInterval = time.Minute

type Sweeper struct {
	Registry *Registry
	Interval time.Duration
	Now      func() time.Time
	Logf     func(string, ...any)
}

func NewSweeper(registry *Registry, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		Registry: registry,
		Interval: interval,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	for {
		if err := sleepWithContext(ctx, s.Interval); err != nil {
			return
		}
		evicted, err := s.RunOnce(ctx)
		if err != nil && s.Logf != nil {
			s.Logf("widget session sweep failed: %v", err)
			continue
		}
		if evicted > 0 && s.Logf != nil {
			s.Logf("widget session sweep evicted %d idle sessions", evicted)
		}
	}
}

func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if s == nil || s.Registry == nil {
		return 0, fmt.Errorf("widget session sweeper is not configured")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	evicted := s.Registry.Sweep(s.now())
	metrics.RecordSessionsEvicted(evicted)
	return evicted, nil
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
