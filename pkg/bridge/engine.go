package bridge

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kr8tiv/cctp-relayer/internal/metrics"
	"github.com/kr8tiv/cctp-relayer/pkg/config"
)

const gaugeRefreshInterval = 30 * time.Second

// KillState reports whether the kill switch is active, for gauge refresh.
type KillState interface {
	IsKilled(ctx context.Context) (bool, error)
}

// Engine runs the trigger and advance loops on their configured intervals
// until Stop is called.
type Engine struct {
	config     *config.BridgeConfig
	trigger    *Trigger
	controller *Controller
	store      JobStore
	safety     KillState
	logger     *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates a new bridge engine
func NewEngine(
	cfg *config.BridgeConfig,
	trigger *Trigger,
	controller *Controller,
	jobStore JobStore,
	safety KillState,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		config:     cfg,
		trigger:    trigger,
		controller: controller,
		store:      jobStore,
		safety:     safety,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the background loops.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("Starting bridge engine",
		zap.Duration("trigger_interval", e.config.TriggerInterval),
		zap.Duration("advance_interval", e.config.AdvanceInterval),
		zap.Bool("dry_run", e.config.DryRun))

	e.wg.Add(3)
	go e.triggerLoop(ctx)
	go e.advanceLoop(ctx)
	go e.gaugeLoop(ctx)
}

// Stop signals the loops to exit and waits for them.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	e.logger.Info("Bridge engine stopped")
}

func (e *Engine) triggerLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.TriggerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.trigger.CheckAndTrigger(ctx); err != nil {
				e.logger.Error("Trigger evaluation failed", zap.Error(err))
			}
		}
	}
}

func (e *Engine) advanceLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.AdvanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.controller.AdvanceAllPending(ctx); err != nil {
				e.logger.Error("Advance sweep failed", zap.Error(err))
			}
		}
	}
}

func (e *Engine) gaugeLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(gaugeRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refreshGauges(ctx)
		}
	}
}

func (e *Engine) refreshGauges(ctx context.Context) {
	if pending, err := e.store.PendingJobs(ctx); err == nil {
		metrics.PendingJobs.Set(float64(len(pending)))
	}
	if killed, err := e.safety.IsKilled(ctx); err == nil {
		if killed {
			metrics.KillSwitchActive.Set(1)
		} else {
			metrics.KillSwitchActive.Set(0)
		}
	}
}
