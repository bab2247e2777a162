package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/linkforge/linkforge/config"
)

// SessionPruner fails stranded sessions and deletes terminal ones older
// than maxAge.
type SessionPruner interface {
	FailStuckSessions(ctx context.Context, maxAge time.Duration) (int64, error)
	DeleteStaleSessions(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Sweeper periodically prunes old completed/failed sessions according to a
// cron schedule.
type Sweeper struct {
	Store  SessionPruner
	Cfg    config.RetentionConfig
	Logger *log.Logger
	Stop   chan struct{}
}

// Start runs the sweep loop in a goroutine until Stop is closed.
func (s *Sweeper) Start() {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[RETENTION] ", log.LstdFlags)
	}
	expr, err := cronexpr.Parse(s.Cfg.CronSpec)
	if err != nil {
		s.Logger.Printf("invalid cron spec %q, falling back to hourly: %v", s.Cfg.CronSpec, err)
		expr = cronexpr.MustParse("0 * * * *")
	}
	go func() {
		for {
			next := expr.Next(time.Now())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-s.Stop:
				timer.Stop()
				return
			case <-timer.C:
				s.sweep()
			}
		}
	}()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	failed, err := s.Store.FailStuckSessions(ctx, s.Cfg.MaxAge)
	if err != nil {
		s.Logger.Printf("failing stuck sessions: %v", err)
		return
	}
	if failed > 0 {
		s.Logger.Printf("failed %d abandoned sessions", failed)
	}
	n, err := s.Store.DeleteStaleSessions(ctx, s.Cfg.MaxAge)
	if err != nil {
		s.Logger.Printf("sweep failed: %v", err)
		return
	}
	if n > 0 {
		s.Logger.Printf("pruned %d stale sessions", n)
	}
}
