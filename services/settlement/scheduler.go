package settlement

import (
	"context"
	"time"

	"contextly-rewards/pkg/config"
	"contextly-rewards/services/queue"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler drives the processor. A fixed ticker guarantees the queue
// drains even when traffic stops; fast-path signals from the queue
// service pull the next cycle forward behind a short debounce so bursts
// settle as one batch instead of one transaction each.
type Scheduler struct {
	proc     *Processor
	fastPath queue.FastPath
	interval time.Duration
	debounce time.Duration

	stop chan struct{}
	done chan struct{}
}

type SchedulerParams struct {
	fx.In

	Proc     *Processor
	FastPath queue.FastPath
	Cfg      *config.Config
}

func NewScheduler(p SchedulerParams) *Scheduler {
	return &Scheduler{
		proc:     p.Proc,
		fastPath: p.FastPath,
		interval: p.Cfg.Settlement.Interval,
		debounce: p.Cfg.Settlement.Debounce,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	go s.run()
	zap.L().Info("[Settlement] scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("debounce", s.debounce),
	)
}

func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
	zap.L().Info("[Settlement] scheduler stopped")
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	wake := time.NewTimer(s.debounce)
	if !wake.Stop() {
		<-wake.C
	}

	for {
		select {
		case <-s.stop:
			return

		case <-ticker.C:
			s.cycle()

		case <-s.fastPath:
			s.drainSignals()
			wake.Reset(s.debounce)

		case <-wake.C:
			s.cycle()
		}
	}
}

// drainSignals empties queued fast-path signals so a burst arms the
// debounce timer once.
func (s *Scheduler) drainSignals() {
	for {
		select {
		case <-s.fastPath:
		default:
			return
		}
	}
}

func (s *Scheduler) cycle() {
	res, err := s.proc.RunCycle(context.Background())
	if err != nil {
		zap.L().Error("[Settlement] cycle failed", zap.Error(err))
		return
	}
	if res.Empty() {
		zap.L().Debug("[Settlement] nothing to settle")
	}
}
