package evolution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/mat"

	"github.com/GoSim-25-26J-441/evolution-core/internal/weights"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/logger"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/utils"
)

// RewardFunc scores a weight set. It must not modify ws and must be safe for
// concurrent use.
type RewardFunc func(ws *weights.Set) (float64, error)

// ProgressReporter receives the reward of the current weights every reportEvery iterations
type ProgressReporter func(iteration int, reward float64)

// CheckpointFunc receives a snapshot of the weights every checkpoint interval
type CheckpointFunc func(iteration int, ws *weights.Set) error

// Observer is notified about evaluation timing and finished iterations
type Observer interface {
	ObserveEvaluation(d time.Duration)
	ObserveIteration(iteration int, degenerate bool)
}

// Step is one progress report
type Step struct {
	Iteration int     `json:"iteration"`
	Reward    float64 `json:"reward"`
}

// Result summarises a training call
type Result struct {
	Weights    *weights.Set
	Iterations int
	History    []Step
	Elapsed    time.Duration
}

// Strategy is a natural evolution strategy over a weight set. Each iteration
// samples a population of Gaussian perturbations, scores them with the reward
// function and moves the weights along the reward-weighted noise.
type Strategy struct {
	cfg    Config
	reward RewardFunc
	rng    *utils.RandSource
	log    *slog.Logger

	reporter        ProgressReporter
	checkpoint      CheckpointFunc
	checkpointEvery int
	observer        Observer

	mu        sync.RWMutex
	weights   *weights.Set
	iteration int
	history   []Step
}

// Option configures a Strategy
type Option func(*Strategy)

// WithProgressReporter registers a callback for periodic reward reports
func WithProgressReporter(fn ProgressReporter) Option {
	return func(s *Strategy) {
		s.reporter = fn
	}
}

// WithCheckpoint calls fn with the weights every `every` iterations
func WithCheckpoint(every int, fn CheckpointFunc) Option {
	return func(s *Strategy) {
		s.checkpointEvery = every
		s.checkpoint = fn
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Strategy) {
		s.log = l
	}
}

// WithObserver registers an observer, typically the Prometheus metrics
func WithObserver(o Observer) Option {
	return func(s *Strategy) {
		s.observer = o
	}
}

// NewStrategy creates a strategy starting from initial
func NewStrategy(initial *weights.Set, reward RewardFunc, cfg Config, opts ...Option) (*Strategy, error) {
	if initial == nil {
		return nil, &ConfigurationError{Field: "weights", Value: nil}
	}
	if reward == nil {
		return nil, &ConfigurationError{Field: "reward", Value: nil}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Strategy{
		cfg:     cfg,
		reward:  reward,
		rng:     utils.NewRandSource(cfg.Seed),
		log:     logger.Component("evolution"),
		weights: initial,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.checkpoint != nil && s.checkpointEvery <= 0 {
		return nil, &ConfigurationError{Field: "checkpoint_every", Value: s.checkpointEvery}
	}
	return s, nil
}

// Config returns the hyperparameters
func (s *Strategy) Config() Config {
	return s.cfg
}

// Weights returns the current weights. The returned set is never modified.
func (s *Strategy) Weights() *weights.Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.weights
}

// Iteration returns the number of completed iterations
func (s *Strategy) Iteration() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.iteration
}

// History returns a copy of the progress reports so far
func (s *Strategy) History() []Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Step, len(s.history))
	copy(out, s.history)
	return out
}

// Train runs iterations steps, reporting the reward of the current weights
// every reportEvery iterations. Cancellation is checked between iterations;
// a cancelled run returns the partial result along with ctx.Err().
func (s *Strategy) Train(ctx context.Context, iterations, reportEvery int) (*Result, error) {
	if iterations < 0 {
		return nil, &ConfigurationError{Field: "iterations", Value: iterations}
	}
	if reportEvery <= 0 {
		return nil, &ConfigurationError{Field: "report_every", Value: reportEvery}
	}

	s.log.Info("training started", "iterations", iterations, "config", s.cfg.String(), "seed", s.rng.Seed())
	start := time.Now()

	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			s.log.Warn("training cancelled", "iteration", s.Iteration())
			return s.result(time.Since(start)), err
		}
		if err := s.Step(ctx); err != nil {
			return s.result(time.Since(start)), err
		}

		done := s.Iteration()
		if done%reportEvery == 0 {
			if err := s.report(done); err != nil {
				return s.result(time.Since(start)), err
			}
		}
		if s.checkpoint != nil && done%s.checkpointEvery == 0 {
			if err := s.checkpoint(done, s.Weights()); err != nil {
				return s.result(time.Since(start)), fmt.Errorf("checkpoint at iteration %d: %w", done, err)
			}
		}
	}

	elapsed := time.Since(start)
	s.log.Info("training finished", "iterations", iterations, "elapsed_seconds", elapsed.Seconds())
	return s.result(elapsed), nil
}

func (s *Strategy) report(iteration int) error {
	reward, err := s.reward(s.Weights())
	if err != nil {
		return &EvaluationError{Iteration: iteration, Member: -1, Err: err}
	}
	if !utils.IsFinite(reward) {
		return &NonFiniteRewardError{Iteration: iteration, Member: -1, Value: reward}
	}

	s.mu.Lock()
	s.history = append(s.history, Step{Iteration: iteration, Reward: reward})
	s.mu.Unlock()

	s.log.Info("progress", "iteration", iteration, "reward", reward)
	if s.reporter != nil {
		s.reporter(iteration, reward)
	}
	return nil
}

func (s *Strategy) result(elapsed time.Duration) *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := make([]Step, len(s.history))
	copy(history, s.history)
	return &Result{
		Weights:    s.weights,
		Iterations: s.iteration,
		History:    history,
		Elapsed:    elapsed,
	}
}

// Step runs a single iteration and replaces the weights with the updated set.
func (s *Strategy) Step(ctx context.Context) error {
	current := s.Weights()
	iteration := s.Iteration() + 1

	// Noise is drawn sequentially before any evaluation so that a fixed seed
	// reproduces the same trajectory regardless of scheduling.
	population := make([]*weights.Set, s.cfg.PopulationSize)
	for k := range population {
		population[k] = current.SampleNoise(s.rng)
	}

	rewards, err := s.evaluate(ctx, iteration, current, population)
	if err != nil {
		return err
	}

	normalized, degenerate := Standardize(rewards)
	if degenerate {
		s.log.Debug("zero update", "iteration", iteration, "reason", ErrDegenerateRewards.Error())
	}

	next, err := s.update(current, population, normalized)
	if err != nil {
		return fmt.Errorf("iteration %d: %w", iteration, err)
	}

	s.mu.Lock()
	s.weights = next
	s.iteration = iteration
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveIteration(iteration, degenerate)
	}
	return nil
}

// evaluate scores every perturbed member. Each member builds its own
// perturbed set from the shared, read-only current weights, and writes its
// reward into its own slot.
func (s *Strategy) evaluate(ctx context.Context, iteration int, current *weights.Set, population []*weights.Set) ([]float64, error) {
	rewards := make([]float64, len(population))
	p := pool.New().WithMaxGoroutines(s.cfg.workers()).WithContext(ctx).WithCancelOnError().WithFirstError()

	for k, noise := range population {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			candidate, err := current.Perturbed(noise, s.cfg.Sigma)
			if err != nil {
				return &EvaluationError{Iteration: iteration, Member: k, Err: err}
			}

			start := time.Now()
			r, err := s.reward(candidate)
			if s.observer != nil {
				s.observer.ObserveEvaluation(time.Since(start))
			}
			if err != nil {
				return &EvaluationError{Iteration: iteration, Member: k, Err: err}
			}
			if !utils.IsFinite(r) {
				return &NonFiniteRewardError{Iteration: iteration, Member: k, Value: r}
			}
			rewards[k] = r
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}
	return rewards, nil
}

// update computes W_j + lr/(pop*sigma) * A_jᵀ·r for every entry j, where row k
// of A_j is member k's noise for that entry, flattened.
func (s *Strategy) update(current *weights.Set, population []*weights.Set, normalized []float64) (*weights.Set, error) {
	n := len(population)
	coef := s.cfg.LearningRate / (float64(n) * s.cfg.Sigma)
	r := mat.NewVecDense(n, normalized)

	entries := make([]*mat.Dense, current.Len())
	for j := range entries {
		w := current.At(j)
		rows, cols := w.Dims()

		a := mat.NewDense(n, rows*cols, nil)
		for k, noise := range population {
			e := noise.At(j)
			if er, ec := e.Dims(); er != rows || ec != cols {
				return nil, &weights.ShapeMismatchError{Entry: j, Want: weights.Shape{Rows: rows, Cols: cols}, Got: weights.Shape{Rows: er, Cols: ec}}
			}
			a.SetRow(k, e.RawMatrix().Data)
		}

		var g mat.VecDense
		g.MulVec(a.T(), r)
		step := mat.NewDense(rows, cols, g.RawVector().Data)

		next := mat.DenseCopyOf(w)
		next.Add(next, scaled(coef, step))
		entries[j] = next
	}
	return weights.New(entries...)
}

func scaled(f float64, m *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Scale(f, m)
	return &out
}

// Standardize returns (r - mean) / std using the population standard
// deviation. When every reward is equal the result is all zeros and
// degenerate is true.
func Standardize(rewards []float64) (out []float64, degenerate bool) {
	out = make([]float64, len(rewards))
	if len(rewards) == 0 {
		return out, true
	}
	mean := utils.Mean(rewards)
	std := utils.StdDev(rewards)
	if std == 0 || !utils.IsFinite(std) {
		return out, true
	}
	for i, r := range rewards {
		out[i] = (r - mean) / std
	}
	return out, false
}
