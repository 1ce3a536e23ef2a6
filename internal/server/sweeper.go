package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/viralforge/config"
	"github.com/mohammad-safakhou/viralforge/internal/engine"
	"github.com/mohammad-safakhou/viralforge/internal/store"
)

// Sweeper periodically drives resumable sessions forward: sessions waiting
// at pending, and in-progress sessions gone stale after a crash. It is the
// cron-style recovery trigger; the engine itself does the arbitration.
type Sweeper struct {
	Store  *store.Store
	Orch   *engine.Orchestrator
	Rdb    *redis.Client
	Cfg    config.EngineConfig
	Stop   chan struct{}
	Logger *log.Logger
}

func (s *Sweeper) Start() error {
	spec := s.Cfg.SweepCron
	if spec == "" {
		spec = "*/1 * * * *"
	}
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse sweep cron %q: %w", spec, err)
	}
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SWEEP] ", log.LstdFlags)
	}
	go s.loop(expr)
	return nil
}

func (s *Sweeper) loop(expr *cronexpr.Expression) {
	for {
		next := expr.Next(time.Now())
		if next.IsZero() {
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.Stop:
			timer.Stop()
			return
		case <-timer.C:
			s.tick()
		}
	}
}

func (s *Sweeper) tick() {
	ctx := context.Background()
	cutoff := time.Now().Add(-s.Cfg.StaleAfter)
	ids, err := s.Store.ListResumable(ctx, cutoff)
	if err != nil {
		s.Logger.Printf("list resumable sessions: %v", err)
		return
	}
	for _, id := range ids {
		s.drive(ctx, id)
	}
}

// drive advances one session under a per-session redis lock so replicas do
// not double-call the generative service for the same step.
func (s *Sweeper) drive(ctx context.Context, id string) {
	lockKey := "sweep:lock:" + id
	ok, err := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
	if err != nil || !ok {
		return
	}
	defer s.Rdb.Del(ctx, lockKey)

	res, err := s.Orch.Advance(ctx, id)
	switch {
	case err != nil:
		s.Logger.Printf("session %s advance failed (%s): %v", id, engine.KindOf(err), err)
	case res.Busy:
		// another trigger holds the cooperative lock
	default:
		s.Logger.Printf("session %s advanced to phase %d step %s (status=%s)", id, res.Phase, res.Step, res.Status)
	}
}
