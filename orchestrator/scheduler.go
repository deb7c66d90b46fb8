package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"edumarket/api/config"
)

// Scheduler runs the periodic pipeline work over active visitors.
type Scheduler struct {
	reg *Registry
	cfg config.SchedulerConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(reg *Registry, cfg config.SchedulerConfig) *Scheduler {
	def := config.Default().Scheduler
	if cfg.ConversionCheckInterval <= 0 {
		cfg.ConversionCheckInterval = def.ConversionCheckInterval
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.OptimizeInterval <= 0 {
		cfg.OptimizeInterval = def.OptimizeInterval
	}
	return &Scheduler{reg: reg, cfg: cfg}
}

// Start launches the tickers. It is a no-op when already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(3)
	go s.loop(ctx, "conversion_check", s.cfg.ConversionCheckInterval, s.CheckConversions)
	go s.loop(ctx, "flush", s.cfg.FlushInterval, s.FlushEvents)
	go s.loop(ctx, "optimize", s.cfg.OptimizeInterval, s.OptimizeStorage)
	log.Info().Dur("conversion_check", s.cfg.ConversionCheckInterval).Dur("flush", s.cfg.FlushInterval).
		Dur("optimize", s.cfg.OptimizeInterval).Msg("Scheduler started")
}

// Stop cancels the tickers and waits for a running task to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, task func(context.Context) error) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := task(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Str("task", name).Msg("Scheduled task reported errors")
			}
		}
	}
}

func (s *Scheduler) CheckConversions(ctx context.Context) error {
	return s.reg.Each(ctx, "conversion_check", func(ctx context.Context, a *Analytics) error {
		_, err := a.CheckConversions(ctx)
		return err
	})
}

// FlushEvents flushes every active visitor's queue, then forgets visitors
// that have been idle for long.
func (s *Scheduler) FlushEvents(ctx context.Context) error {
	err := s.reg.Each(ctx, "flush", func(ctx context.Context, a *Analytics) error {
		_, err := a.Flush(ctx)
		return err
	})
	if n := s.reg.Prune(); n > 0 {
		log.Debug().Int("visitors", n).Msg("Pruned idle visitors")
	}
	return err
}

func (s *Scheduler) OptimizeStorage(ctx context.Context) error {
	return s.reg.Each(ctx, "optimize", func(ctx context.Context, a *Analytics) error {
		_, err := a.Optimize(ctx)
		return err
	})
}
