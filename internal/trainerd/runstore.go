package trainerd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/evolution-core/internal/market"
	"github.com/GoSim-25-26J-441/evolution-core/internal/metrics"
	"github.com/GoSim-25-26J-441/evolution-core/internal/storage"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/config"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/logger"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/models"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/utils"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrRunTerminal  = errors.New("run is terminal")
	ErrRunIDMissing = errors.New("run_id is required")
	ErrRunExists    = errors.New("run already exists")
	ErrInvalidInput = errors.New("invalid run input")
)

// RunInput is what a client submits to create a run
type RunInput struct {
	ConfigYAML     string    `json:"config_yaml"`
	Prices         []float64 `json:"prices"`
	CallbackURL    string    `json:"callback_url,omitempty"`
	CallbackSecret string    `json:"callback_secret,omitempty"`
}

// RunRecord is a run plus everything the daemon keeps about it in memory.
// Records handed out by RunStore are snapshots; Run is a private copy.
type RunRecord struct {
	Run            *models.Run
	Config         *config.Config
	CallbackSecret string
	Collector      *metrics.Collector
	TradeLog       *market.TradeLog
	Weights        []byte // latest weight archive, never modified in place
}

// RunStore is the in-memory run registry. When a storage.Store is attached,
// run metadata, progress and weights are written through to it.
type RunStore struct {
	mu      sync.RWMutex
	runs    map[string]*RunRecord
	persist storage.Store
	log     *slog.Logger
}

// NewRunStore creates a registry; persist may be nil
func NewRunStore(persist storage.Store) *RunStore {
	return &RunStore{
		runs:    make(map[string]*RunRecord),
		persist: persist,
		log:     logger.Component("runstore"),
	}
}

// Restore loads persisted runs and the trade reports of finished ones. Runs
// that were still pending or running when the daemon stopped are marked
// failed, since their prices are not kept.
func (s *RunStore) Restore(ctx context.Context) (int, error) {
	if s.persist == nil {
		return 0, nil
	}
	runs, err := s.persist.ListRuns(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore runs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range runs {
		if _, exists := s.runs[run.ID]; exists {
			continue
		}
		if !run.Status.IsTerminal() {
			run.Status = models.RunStatusFailed
			run.Error = "interrupted by daemon restart"
			run.EndedAt = time.Now().UTC()
			s.save(run)
		}
		rec := &RunRecord{Run: run, Collector: metrics.NewCollector()}
		if cfg, err := config.ParseConfigYAMLString(run.ConfigYAML); err == nil {
			rec.Config = cfg
		}
		if run.Status == models.RunStatusCompleted {
			rec.TradeLog = s.loadTrades(ctx, run.ID)
		}
		s.runs[run.ID] = rec
	}
	return len(runs), nil
}

// Create validates input and registers a pending run. An empty runID gets a generated one.
func (s *RunStore) Create(runID string, input RunInput) (*RunRecord, error) {
	cfg, err := config.ParseConfigYAMLString(input.ConfigYAML)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := validatePrices(input.Prices, cfg.Agent.TestSize); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if input.CallbackURL != "" {
		if err := ValidateCallbackURL(input.CallbackURL); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	normalized, err := cfg.MarshalYAMLString()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if runID == "" {
		runID = utils.GenerateRunID()
	}
	if _, exists := s.runs[runID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrRunExists, runID)
	}

	rec := &RunRecord{
		Run: &models.Run{
			ID:          runID,
			Status:      models.RunStatusPending,
			ConfigYAML:  normalized,
			Prices:      append([]float64(nil), input.Prices...),
			CallbackURL: input.CallbackURL,
			CreatedAt:   time.Now().UTC(),
		},
		Config:         cfg,
		CallbackSecret: input.CallbackSecret,
		Collector:      metrics.NewCollector(),
	}
	s.runs[runID] = rec
	s.save(rec.Run)
	return snapshot(rec), nil
}

func validatePrices(prices []float64, testSize float64) error {
	for i, p := range prices {
		if !utils.IsFinite(p) {
			return fmt.Errorf("price %d is not finite", i)
		}
	}
	train, test, err := market.Split(prices, testSize)
	if err != nil {
		return err
	}
	if len(train) < 2 || len(test) < 2 {
		return fmt.Errorf("need at least 2 prices in both train and test parts, got %d and %d", len(train), len(test))
	}
	return nil
}

// Get returns a snapshot of a run
func (s *RunStore) Get(runID string) (*RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[runID]
	if !ok {
		return nil, false
	}
	return snapshot(rec), true
}

// List returns runs ordered by creation time, optionally filtered by status
func (s *RunStore) List(limit, offset int, status models.RunStatus) []*RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	all := make([]*RunRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		if status != "" && rec.Run.Status != status {
			continue
		}
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Run.CreatedAt.Equal(all[j].Run.CreatedAt) {
			return all[i].Run.ID < all[j].Run.ID
		}
		return all[i].Run.CreatedAt.Before(all[j].Run.CreatedAt)
	})

	if offset >= len(all) {
		return []*RunRecord{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	out := make([]*RunRecord, 0, end-offset)
	for _, rec := range all[offset:end] {
		out = append(out, snapshot(rec))
	}
	return out
}

// SetStatus moves a run to status. Terminal runs cannot change.
func (s *RunStore) SetStatus(runID string, status models.RunStatus, errMsg string) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if rec.Run.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrRunTerminal, runID, rec.Run.Status)
	}

	rec.Run.Status = status
	if errMsg != "" {
		rec.Run.Error = errMsg
	}
	switch {
	case status == models.RunStatusRunning:
		if rec.Run.StartedAt.IsZero() {
			rec.Run.StartedAt = time.Now().UTC()
			rec.Collector.Start()
		}
	case status.IsTerminal():
		rec.Run.EndedAt = time.Now().UTC()
		rec.Collector.Stop()
		// prices are only needed while training
		rec.Run.Prices = nil
	}
	s.save(rec.Run)
	return snapshot(rec), nil
}

// MarkRunning moves a pending run to running. started is false when the run
// was already running, in which case the current state is returned as is.
func (s *RunStore) MarkRunning(runID string) (rec *RunRecord, started bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	switch r.Run.Status {
	case models.RunStatusRunning:
		return snapshot(r), false, nil
	case models.RunStatusPending:
	default:
		return nil, false, fmt.Errorf("%w: %s is %s", ErrRunTerminal, runID, r.Run.Status)
	}

	r.Run.Status = models.RunStatusRunning
	if r.Run.StartedAt.IsZero() {
		r.Run.StartedAt = time.Now().UTC()
		r.Collector.Start()
	}
	s.save(r.Run)
	return snapshot(r), true, nil
}

// SetProgress records a periodic reward report
func (s *RunStore) SetProgress(runID string, iteration int, reward float64) error {
	at := time.Now().UTC()

	s.mu.Lock()
	rec, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	rec.Run.Iteration = iteration
	rec.Run.LastReward = reward
	collector := rec.Collector
	s.mu.Unlock()

	metrics.RecordTrainReward(collector, iteration, reward, at, nil)
	if s.persist != nil {
		point := models.ProgressPoint{Iteration: iteration, Reward: reward, At: at}
		if err := s.persist.AppendProgress(context.Background(), runID, point); err != nil {
			s.log.Error("failed to persist progress", "run_id", runID, "iteration", iteration, "error", err)
		}
	}
	return nil
}

// Progress returns the reward reports of a run, from memory or from storage
// for runs restored after a restart.
func (s *RunStore) Progress(ctx context.Context, runID string) ([]models.ProgressPoint, error) {
	rec, ok := s.Get(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	points := metrics.ProgressPoints(rec.Collector, nil)
	if len(points) > 0 || s.persist == nil {
		return points, nil
	}
	return s.persist.GetProgress(ctx, runID)
}

// SetResult attaches the outcome of a finished training run
func (s *RunStore) SetResult(runID string, runMetrics *models.RunMetrics, tradeLog *market.TradeLog, archive []byte) error {
	s.mu.Lock()
	rec, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	rec.Run.Metrics = runMetrics
	rec.TradeLog = tradeLog
	s.save(rec.Run)
	s.mu.Unlock()

	if s.persist != nil && tradeLog != nil {
		report, err := json.Marshal(tradeLog)
		if err != nil {
			return fmt.Errorf("encode trades for %s: %w", runID, err)
		}
		if err := s.persist.SaveTrades(context.Background(), runID, report); err != nil {
			return fmt.Errorf("persist trades for %s: %w", runID, err)
		}
	}
	return s.SaveWeights(runID, archive)
}

// loadTrades reads a persisted trade report; failures only cost the report
func (s *RunStore) loadTrades(ctx context.Context, runID string) *market.TradeLog {
	report, ok, err := s.persist.GetTrades(ctx, runID)
	if err != nil {
		s.log.Warn("failed to load trades", "run_id", runID, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	var tradeLog market.TradeLog
	if err := json.Unmarshal(report, &tradeLog); err != nil {
		s.log.Warn("failed to decode trades", "run_id", runID, "error", err)
		return nil
	}
	return &tradeLog
}

// SaveWeights stores a weight archive for a run, replacing any earlier one
func (s *RunStore) SaveWeights(runID string, archive []byte) error {
	if archive == nil {
		return nil
	}
	s.mu.Lock()
	rec, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	rec.Weights = archive
	s.mu.Unlock()

	if s.persist == nil {
		return nil
	}
	if err := s.persist.SaveWeights(context.Background(), runID, archive); err != nil {
		return fmt.Errorf("persist weights for %s: %w", runID, err)
	}
	return nil
}

// Weights returns the latest weight archive of a run
func (s *RunStore) Weights(ctx context.Context, runID string) ([]byte, bool, error) {
	rec, ok := s.Get(runID)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if rec.Weights != nil {
		return rec.Weights, true, nil
	}
	if s.persist == nil {
		return nil, false, nil
	}
	return s.persist.GetWeights(ctx, runID)
}

// save writes run metadata through to storage. Caller holds s.mu.
func (s *RunStore) save(run *models.Run) {
	if s.persist == nil {
		return
	}
	if err := s.persist.SaveRun(context.Background(), run); err != nil {
		s.log.Error("failed to persist run", "run_id", run.ID, "status", run.Status, "error", err)
	}
}

func snapshot(rec *RunRecord) *RunRecord {
	run := *rec.Run
	if rec.Run.Metrics != nil {
		m := *rec.Run.Metrics
		run.Metrics = &m
	}
	cp := *rec
	cp.Run = &run
	return &cp
}
