package trainerd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/evolution-core/internal/evolution"
	"github.com/GoSim-25-26J-441/evolution-core/internal/market"
	"github.com/GoSim-25-26J-441/evolution-core/internal/metrics"
	"github.com/GoSim-25-26J-441/evolution-core/internal/policy"
	"github.com/GoSim-25-26J-441/evolution-core/internal/weights"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/config"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/logger"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/models"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/utils"
)

const publishTimeout = 5 * time.Second

// RunExecutor manages asynchronous training runs and per-run cancellation.
type RunExecutor struct {
	store    *RunStore
	prom     *metrics.Prometheus
	sink     EventSink
	notifier *Notifier
	log      *slog.Logger

	mu      sync.Mutex
	cancels map[string]*runHandle
	wg      sync.WaitGroup
}

// ExecutorOption configures a RunExecutor
type ExecutorOption func(*RunExecutor)

// WithPrometheus exports training metrics to p
func WithPrometheus(p *metrics.Prometheus) ExecutorOption {
	return func(e *RunExecutor) {
		e.prom = p
	}
}

// WithEventSink publishes progress, trade and completion events to sink
func WithEventSink(sink EventSink) ExecutorOption {
	return func(e *RunExecutor) {
		e.sink = sink
	}
}

// WithNotifier overrides the callback notifier
func WithNotifier(n *Notifier) ExecutorOption {
	return func(e *RunExecutor) {
		e.notifier = n
	}
}

func NewRunExecutor(store *RunStore, opts ...ExecutorOption) *RunExecutor {
	e := &RunExecutor{
		store:    store,
		sink:     NopSink{},
		notifier: NewNotifier(),
		log:      logger.Component("executor"),
		cancels:  make(map[string]*runHandle),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins training a run asynchronously.
// Returns the updated run state (running) or an error.
func (e *RunExecutor) Start(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, ErrRunIDMissing
	}

	// the transition and the handle registration happen under e.mu so a
	// concurrent Start or Stop sees both or neither
	e.mu.Lock()
	defer e.mu.Unlock()

	updated, started, err := e.store.MarkRunning(runID)
	if err != nil {
		return nil, err
	}
	if !started {
		return updated, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &runHandle{cancel: cancel}
	e.cancels[runID] = h

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.cleanup(runID, h)
		e.runTraining(ctx, runID)
	}()
	return updated, nil
}

// Stop requests cancellation of a run and marks it cancelled. The training
// goroutine notices between iterations.
func (e *RunExecutor) Stop(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, ErrRunIDMissing
	}

	e.mu.Lock()
	if h, ok := e.cancels[runID]; ok {
		h.cancel()
	}
	updated, err := e.store.SetStatus(runID, models.RunStatusCancelled, "")
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.finished(updated.Run)
	e.publish(Event{Type: EventCancelled, RunID: runID, At: time.Now().UTC(), Iteration: updated.Run.Iteration})
	return updated, nil
}

// Shutdown cancels every active run and waits for the training goroutines
// to return, or for ctx to expire.
func (e *RunExecutor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]string, 0, len(e.cancels))
	for id := range e.cancels {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		if _, err := e.Stop(id); err != nil && !errors.Is(err, ErrRunTerminal) {
			e.log.Warn("failed to stop run on shutdown", "run_id", id, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every training goroutine has returned
func (e *RunExecutor) Wait() {
	e.wg.Wait()
}

// runHandle is the cancel func of one training goroutine. Pointer identity
// tells a goroutine's own handle apart from a later one for the same run.
type runHandle struct {
	cancel context.CancelFunc
}

func (e *RunExecutor) cleanup(runID string, h *runHandle) {
	h.cancel()
	e.mu.Lock()
	if e.cancels[runID] == h {
		delete(e.cancels, runID)
	}
	e.mu.Unlock()
}

func (e *RunExecutor) runTraining(ctx context.Context, runID string) {
	log := e.log.With("run_id", runID)

	rec, ok := e.store.Get(runID)
	if !ok {
		log.Error("run not found")
		return
	}
	cfg := rec.Config
	if cfg == nil {
		e.fail(runID, "run has no configuration")
		return
	}

	train, test, err := market.Split(rec.Run.Prices, cfg.Agent.TestSize)
	if err != nil {
		e.fail(runID, fmt.Sprintf("invalid prices: %v", err))
		return
	}
	sim, err := market.NewSimulator(market.FromAgentConfig(cfg.Agent))
	if err != nil {
		e.fail(runID, fmt.Sprintf("invalid agent config: %v", err))
		return
	}

	strategy, err := e.newStrategy(runID, cfg, sim.RewardFunc(train), log)
	if err != nil {
		e.fail(runID, fmt.Sprintf("strategy setup failed: %v", err))
		return
	}

	log.Info("starting training", "iterations", cfg.Training.Iterations, "train_len", len(train), "test_len", len(test))
	result, err := strategy.Train(ctx, cfg.Training.Iterations, cfg.Training.ReportEvery)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("training cancelled", "iteration", strategy.Iteration())
			return
		}
		log.Error("training failed", "error", err)
		e.fail(runID, err.Error())
		return
	}

	if err := e.finish(ctx, runID, sim, train, test, result); err != nil {
		log.Error("finishing run failed", "error", err)
		e.fail(runID, err.Error())
	}
}

func (e *RunExecutor) newStrategy(runID string, cfg *config.Config, reward evolution.RewardFunc, log *slog.Logger) (*evolution.Strategy, error) {
	rng := utils.NewRandSource(cfg.Strategy.Seed)
	model, err := policy.NewDESModel(policy.Layout{
		InputSize:  cfg.Agent.WindowSize,
		LayerSize:  cfg.Model.LayerSize,
		OutputSize: cfg.Model.OutputSize,
	}, rng)
	if err != nil {
		return nil, err
	}

	evoCfg := evolution.FromStrategyConfig(cfg.Strategy)
	// model init and perturbation noise draw from separate streams of one seed
	evoCfg.Seed = rng.Child().Seed()
	log.Debug("model initialised", "parameters", model.Weights().NumParams(), "strategy", evoCfg.String())

	opts := []evolution.Option{
		evolution.WithLogger(log),
		evolution.WithProgressReporter(func(iteration int, r float64) {
			if err := e.store.SetProgress(runID, iteration, r); err != nil {
				log.Warn("failed to record progress", "error", err)
			}
			if e.prom != nil {
				e.prom.SetReward(runID, "train", r)
			}
			e.publish(Event{Type: EventProgress, RunID: runID, At: time.Now().UTC(), Iteration: iteration, Reward: &r})
		}),
	}
	if e.prom != nil {
		opts = append(opts, evolution.WithObserver(e.prom.RunObserver(runID)))
	}
	if every := cfg.Training.CheckpointEvery; every > 0 {
		opts = append(opts, evolution.WithCheckpoint(every, func(iteration int, ws *weights.Set) error {
			archive, err := ws.MarshalBinary()
			if err != nil {
				return err
			}
			log.Debug("checkpoint", "iteration", iteration, "bytes", len(archive))
			return e.store.SaveWeights(runID, archive)
		}))
	}
	return evolution.NewStrategy(model.Weights(), reward, evoCfg, opts...)
}

// finish replays the test split with the trained weights, stores the
// result and moves the run to completed.
func (e *RunExecutor) finish(ctx context.Context, runID string, sim *market.Simulator, train, test []float64, result *evolution.Result) error {
	trainReward, err := sim.SimulateForReward(train, result.Weights)
	if err != nil {
		return fmt.Errorf("train replay: %w", err)
	}
	tradeLog, err := sim.SimulateAndLog(test, result.Weights)
	if err != nil {
		return fmt.Errorf("test replay: %w", err)
	}
	archive, err := result.Weights.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode weights: %w", err)
	}

	runMetrics := &models.RunMetrics{
		Iterations:     result.Iterations,
		TrainReward:    trainReward,
		TestReward:     tradeLog.InvestmentPct,
		TotalGained:    tradeLog.TotalGained,
		Buys:           len(tradeLog.BuyDays),
		Sells:          len(tradeLog.SellDays),
		ElapsedSeconds: result.Elapsed.Seconds(),
	}

	if rec, ok := e.store.Get(runID); ok {
		metrics.RecordTestReward(rec.Collector, result.Iterations, tradeLog.InvestmentPct, time.Now().UTC(), nil)
		metrics.RecordTradeCount(rec.Collector, result.Iterations, models.ActionBuy, runMetrics.Buys, time.Now().UTC())
		metrics.RecordTradeCount(rec.Collector, result.Iterations, models.ActionSell, runMetrics.Sells, time.Now().UTC())
	}
	if err := e.store.SetResult(runID, runMetrics, tradeLog, archive); err != nil {
		return err
	}

	// a Stop that raced with the final replay wins
	if ctx.Err() != nil {
		return nil
	}
	updated, err := e.store.SetStatus(runID, models.RunStatusCompleted, "")
	if err != nil {
		if errors.Is(err, ErrRunTerminal) {
			return nil
		}
		return err
	}

	if e.prom != nil {
		e.prom.SetReward(runID, "test", tradeLog.InvestmentPct)
		e.prom.AddTrades(models.ActionBuy, runMetrics.Buys)
		e.prom.AddTrades(models.ActionSell, runMetrics.Sells)
	}

	events := make([]Event, 0, len(tradeLog.Events)+1)
	for i := range tradeLog.Events {
		events = append(events, Event{Type: EventTrade, RunID: runID, At: time.Now().UTC(), Trade: &tradeLog.Events[i]})
	}
	events = append(events, Event{
		Type:           EventCompleted,
		RunID:          runID,
		At:             time.Now().UTC(),
		Iteration:      result.Iterations,
		Reward:         &runMetrics.TestReward,
		ElapsedSeconds: runMetrics.ElapsedSeconds,
	})
	e.publish(events...)
	e.finished(updated.Run)

	e.log.Info("run completed", "run_id", runID,
		"iterations", result.Iterations,
		"train_reward", trainReward,
		"test_reward", runMetrics.TestReward,
		"elapsed_seconds", runMetrics.ElapsedSeconds)
	return nil
}

func (e *RunExecutor) fail(runID, msg string) {
	updated, err := e.store.SetStatus(runID, models.RunStatusFailed, msg)
	if err != nil {
		e.log.Error("failed to set failed status", "run_id", runID, "error", err)
		return
	}
	e.publish(Event{Type: EventFailed, RunID: runID, At: time.Now().UTC(), Error: msg})
	e.finished(updated.Run)
}

// finished handles what every terminal transition shares: the run counter
// and the callback.
func (e *RunExecutor) finished(run *models.Run) {
	if e.prom != nil {
		e.prom.RunFinished(run.Status)
	}
	if run.CallbackURL == "" {
		return
	}
	secret := ""
	if rec, ok := e.store.Get(run.ID); ok {
		secret = rec.CallbackSecret
	}
	e.notifier.Notify(run.CallbackURL, secret, run)
}

func (e *RunExecutor) publish(events ...Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := e.sink.Publish(ctx, events...); err != nil {
		e.log.Warn("failed to publish events", "count", len(events), "error", err)
	}
}
