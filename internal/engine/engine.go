package engine

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pricewatch/internal/chain"
	"pricewatch/internal/registry"
)

// Engine wires the interest tracker, state cache, batching scheduler,
// lifecycle reclaimer and pricing resolver into one demand-driven
// pricing service. Every component is an explicit instance injected
// here; nothing is a process-wide singleton, so tests construct isolated
// engines freely.
type Engine struct {
	cfg       Config
	tracker   *Tracker
	cache     *Cache
	scheduler *Scheduler
	reclaimer *Reclaimer
	pricer    *Pricer
	logger    *zap.Logger
}

// New builds an engine from its collaborators. A nil clock means system
// time, a nil logger is a no-op, and a nil registerer keeps metrics
// private.
func New(
	cfg Config,
	source registry.Source,
	caller chain.BatchCaller,
	clock Clock,
	logger *zap.Logger,
	reg prometheus.Registerer,
) *Engine {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	metrics := NewMetrics(reg)
	tracker := NewTracker(source, clock, cfg.HighInterval)
	cache := NewCache()

	return &Engine{
		cfg:       cfg,
		tracker:   tracker,
		cache:     cache,
		scheduler: NewScheduler(cfg, tracker, cache, caller, source, clock, logger, metrics),
		reclaimer: NewReclaimer(cfg, tracker, cache, clock, logger, metrics),
		pricer:    NewPricer(source, cache, clock),
		logger:    logger,
	}
}

// Run drives the refresh cycle and the reclaim sweeps until ctx is done,
// then drains in-flight batches.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine start")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		e.reclaimer.Run(ctx)
	}()
	wg.Wait()
	e.scheduler.Wait()

	e.logger.Info("engine stopped")
	return ctx.Err()
}

// RegisterInterest is called on every client poll for a token set; it is
// cheap and idempotent with respect to pool identity.
func (e *Engine) RegisterInterest(network uint64, tokens []common.Address) {
	e.tracker.RegisterInterest(network, tokens)
}

// ReleaseInterest is the symmetric decrement, called by the surrounding
// service when a client's heartbeat lapses.
func (e *Engine) ReleaseInterest(network uint64, tokens []common.Address) {
	e.tracker.ReleaseInterest(network, tokens)
}

// PriceOf returns the current USD price of a token from cache.
func (e *Engine) PriceOf(network uint64, token common.Address) (decimal.Decimal, error) {
	return e.pricer.PriceOf(network, token)
}

// ConsistentPricesOf returns same-tick USD prices for a token set.
func (e *Engine) ConsistentPricesOf(network uint64, tokens []common.Address) (map[common.Address]decimal.Decimal, error) {
	return e.pricer.ConsistentPricesOf(network, tokens)
}
