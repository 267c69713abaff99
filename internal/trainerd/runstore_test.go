package trainerd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/evolution-core/internal/market"
	"github.com/GoSim-25-26J-441/evolution-core/internal/storage"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/models"
)

func TestRunStoreCreateAndGet(t *testing.T) {
	store := NewRunStore(nil)

	input := testInput()
	rec, err := store.Create("", input)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if rec.Run.ID == "" {
		t.Fatalf("expected generated run id")
	}
	if rec.Run.Status != models.RunStatusPending {
		t.Fatalf("expected status pending, got %s", rec.Run.Status)
	}
	if rec.Run.CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be set")
	}
	if rec.Config == nil || rec.Config.Agent.WindowSize != 4 {
		t.Fatalf("expected parsed config, got %+v", rec.Config)
	}

	input.Prices[0] = -1
	got, ok := store.Get(rec.Run.ID)
	if !ok {
		t.Fatalf("expected run to exist")
	}
	if got.Run.Prices[0] == -1 {
		t.Fatalf("store should keep its own copy of the prices")
	}
}

func TestRunStoreCreateDuplicate(t *testing.T) {
	store := NewRunStore(nil)
	if _, err := store.Create("run-1", testInput()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := store.Create("run-1", testInput())
	if !errors.Is(err, ErrRunExists) {
		t.Fatalf("expected ErrRunExists, got %v", err)
	}
}

func TestRunStoreCreateRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input RunInput
	}{
		{"invalid yaml", RunInput{ConfigYAML: "agent: [", Prices: testPrices(40)}},
		{"invalid config", RunInput{ConfigYAML: "strategy:\n  sigma: -1\n", Prices: testPrices(40)}},
		{"too few prices", RunInput{ConfigYAML: testConfigYAML, Prices: testPrices(4)}},
		{"callback scheme", RunInput{ConfigYAML: testConfigYAML, Prices: testPrices(40), CallbackURL: "ftp://example.com/hook"}},
		{"callback metadata", RunInput{ConfigYAML: testConfigYAML, Prices: testPrices(40), CallbackURL: "http://169.254.169.254/latest"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewRunStore(nil)
			_, err := store.Create("", tt.input)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestRunStoreSetStatusSetsTimestamps(t *testing.T) {
	store := NewRunStore(nil)
	if _, err := store.Create("run-1", testInput()); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	running, err := store.SetStatus("run-1", models.RunStatusRunning, "")
	if err != nil {
		t.Fatalf("SetStatus running: %v", err)
	}
	if running.Run.StartedAt.IsZero() {
		t.Fatalf("expected started_at after running")
	}
	if !running.Run.EndedAt.IsZero() {
		t.Fatalf("ended_at should not be set while running")
	}

	failed, err := store.SetStatus("run-1", models.RunStatusFailed, "boom")
	if err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if failed.Run.EndedAt.IsZero() {
		t.Fatalf("expected ended_at after terminal status")
	}
	if failed.Run.Error != "boom" {
		t.Fatalf("expected error message, got %q", failed.Run.Error)
	}
	if failed.Run.Prices != nil {
		t.Fatalf("prices should be released once the run is terminal")
	}
}

func TestRunStoreTerminalIsFinal(t *testing.T) {
	store := NewRunStore(nil)
	if _, err := store.Create("run-1", testInput()); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := store.SetStatus("run-1", models.RunStatusCancelled, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	_, err := store.SetStatus("run-1", models.RunStatusRunning, "")
	if !errors.Is(err, ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal, got %v", err)
	}
	if _, err := store.SetStatus("missing", models.RunStatusRunning, ""); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunStoreMarkRunning(t *testing.T) {
	store := NewRunStore(nil)
	for _, id := range []string{"run-1", "run-2"} {
		if _, err := store.Create(id, testInput()); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	rec, started, err := store.MarkRunning("run-1")
	if err != nil || !started {
		t.Fatalf("expected first MarkRunning to start the run, got started=%v err=%v", started, err)
	}
	if rec.Run.Status != models.RunStatusRunning || rec.Run.StartedAt.IsZero() {
		t.Fatalf("expected running with a start time, got %+v", rec.Run)
	}

	again, started, err := store.MarkRunning("run-1")
	if err != nil || started {
		t.Fatalf("expected second MarkRunning to be a no-op, got started=%v err=%v", started, err)
	}
	if !again.Run.StartedAt.Equal(rec.Run.StartedAt) {
		t.Fatalf("start time moved: %v -> %v", rec.Run.StartedAt, again.Run.StartedAt)
	}

	if _, err := store.SetStatus("run-2", models.RunStatusCancelled, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, _, err := store.MarkRunning("run-2"); !errors.Is(err, ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal, got %v", err)
	}
	if _, _, err := store.MarkRunning("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunStoreListFilterAndPagination(t *testing.T) {
	store := NewRunStore(nil)
	for _, id := range []string{"a", "b", "c", "d"} {
		if _, err := store.Create(id, testInput()); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := store.SetStatus("b", models.RunStatusRunning, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	all := store.List(0, 0, "")
	if len(all) != 4 {
		t.Fatalf("expected 4 runs, got %d", len(all))
	}
	for i, id := range []string{"a", "b", "c", "d"} {
		if all[i].Run.ID != id {
			t.Fatalf("expected creation order, position %d is %s", i, all[i].Run.ID)
		}
	}

	page := store.List(2, 1, "")
	if len(page) != 2 || page[0].Run.ID != "b" || page[1].Run.ID != "c" {
		t.Fatalf("unexpected page: %v", ids(page))
	}
	if got := store.List(10, 10, ""); len(got) != 0 {
		t.Fatalf("expected empty page past the end, got %v", ids(got))
	}

	running := store.List(10, 0, models.RunStatusRunning)
	if len(running) != 1 || running[0].Run.ID != "b" {
		t.Fatalf("expected only b running, got %v", ids(running))
	}
}

func ids(recs []*RunRecord) []string {
	out := make([]string, len(recs))
	for i, rec := range recs {
		out[i] = rec.Run.ID
	}
	return out
}

func TestRunStoreProgress(t *testing.T) {
	store := NewRunStore(nil)
	if _, err := store.Create("run-1", testInput()); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := store.SetProgress("run-1", 10, 1.5); err != nil {
		t.Fatalf("SetProgress: %v", err)
	}
	if err := store.SetProgress("run-1", 20, 2.5); err != nil {
		t.Fatalf("SetProgress: %v", err)
	}
	if err := store.SetProgress("missing", 1, 0); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	rec, _ := store.Get("run-1")
	if rec.Run.Iteration != 20 || rec.Run.LastReward != 2.5 {
		t.Fatalf("expected latest progress on the run, got iteration %d reward %f", rec.Run.Iteration, rec.Run.LastReward)
	}

	points, err := store.Progress(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if len(points) != 2 || points[0].Iteration != 10 || points[1].Reward != 2.5 {
		t.Fatalf("unexpected progress: %+v", points)
	}
}

func TestRunStoreWeightsWithoutPersistence(t *testing.T) {
	store := NewRunStore(nil)
	if _, err := store.Create("run-1", testInput()); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if _, ok, err := store.Weights(context.Background(), "run-1"); err != nil || ok {
		t.Fatalf("expected no weights yet, got ok=%v err=%v", ok, err)
	}
	if err := store.SaveWeights("run-1", []byte("zip")); err != nil {
		t.Fatalf("SaveWeights: %v", err)
	}
	archive, ok, err := store.Weights(context.Background(), "run-1")
	if err != nil || !ok || string(archive) != "zip" {
		t.Fatalf("expected stored archive, got %q ok=%v err=%v", archive, ok, err)
	}
	if _, _, err := store.Weights(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunStoreWriteThroughAndRestore(t *testing.T) {
	ctx := context.Background()
	persist := storage.NewMemoryStore()
	if err := persist.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	first := NewRunStore(persist)
	if _, err := first.Create("done", testInput()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := first.Create("busy", testInput()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := first.SetStatus("busy", models.RunStatusRunning, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := first.SetProgress("done", 5, 0.75); err != nil {
		t.Fatalf("SetProgress: %v", err)
	}
	pct := 20.0
	tradeLog := &market.TradeLog{
		BuyDays:      []int{0},
		SellDays:     []int{3},
		InitialMoney: 1000,
		FinalMoney:   1010,
		TotalGained:  10,
		Events: []models.TradeEvent{
			{Day: 0, Action: "buy", Units: 5, PriceTotal: 50, Balance: 950},
			{Day: 3, Action: "sell", Units: 5, PriceTotal: 60, Balance: 1010, InvestmentPct: &pct},
		},
	}
	if err := first.SetResult("done", &models.RunMetrics{Iterations: 5}, tradeLog, []byte("archive")); err != nil {
		t.Fatalf("SetResult: %v", err)
	}
	if _, err := first.SetStatus("done", models.RunStatusCompleted, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	stored, ok, err := persist.GetRun(ctx, "busy")
	if err != nil || !ok || stored.Status != models.RunStatusRunning {
		t.Fatalf("expected running run in storage, got %+v ok=%v err=%v", stored, ok, err)
	}

	second := NewRunStore(persist)
	n, err := second.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 restored runs, got %d", n)
	}

	busy, ok := second.Get("busy")
	if !ok {
		t.Fatalf("expected busy run after restore")
	}
	if busy.Run.Status != models.RunStatusFailed || busy.Run.Error == "" {
		t.Fatalf("interrupted run should be failed with a reason, got %s %q", busy.Run.Status, busy.Run.Error)
	}
	if busy.Config == nil {
		t.Fatalf("expected config to be parsed back from the stored yaml")
	}

	done, _ := second.Get("done")
	if done.Run.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed run, got %s", done.Run.Status)
	}
	points, err := second.Progress(ctx, "done")
	if err != nil || len(points) != 1 || points[0].Reward != 0.75 {
		t.Fatalf("expected progress from storage, got %+v err=%v", points, err)
	}
	if done.TradeLog == nil || len(done.TradeLog.Events) != 2 || done.TradeLog.TotalGained != 10 {
		t.Fatalf("expected trade report from storage, got %+v", done.TradeLog)
	}
	if sell := done.TradeLog.Events[1]; sell.InvestmentPct == nil || *sell.InvestmentPct != 20 {
		t.Fatalf("expected sell investment to survive restore, got %+v", sell)
	}
	if busy.TradeLog != nil {
		t.Fatalf("interrupted run should have no trade report")
	}
	archive, ok, err := second.Weights(ctx, "done")
	if err != nil || !ok || string(archive) != "archive" {
		t.Fatalf("expected weights from storage, got %q ok=%v err=%v", archive, ok, err)
	}
}
