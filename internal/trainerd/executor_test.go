package trainerd

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/evolution-core/internal/metrics"
	"github.com/GoSim-25-26J-441/evolution-core/internal/policy"
	"github.com/GoSim-25-26J-441/evolution-core/internal/weights"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/models"
)

func TestExecutorStartRunsToCompletion(t *testing.T) {
	store := NewRunStore(nil)
	sink := &recordingSink{}
	prom := metrics.NewPrometheus()
	exec := NewRunExecutor(store, WithEventSink(sink), WithPrometheus(prom))

	rec, err := store.Create("run-1", testInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	started, err := exec.Start(rec.Run.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Run.Status != models.RunStatusRunning {
		t.Fatalf("expected running, got %s", started.Run.Status)
	}

	done := waitForStatus(t, store, "run-1", models.RunStatusCompleted)
	exec.Wait()

	m := done.Run.Metrics
	if m == nil {
		t.Fatalf("expected run metrics")
	}
	if m.Iterations != 5 {
		t.Fatalf("expected 5 iterations, got %d", m.Iterations)
	}
	if m.Buys != len(done.TradeLog.BuyDays) || m.Sells != len(done.TradeLog.SellDays) {
		t.Fatalf("metrics trade counts disagree with trade log: %+v", m)
	}
	if done.TradeLog.InitialMoney != 1000 {
		t.Fatalf("expected replay from the configured money, got %f", done.TradeLog.InitialMoney)
	}
	if done.Run.Prices != nil {
		t.Fatalf("prices should be released after completion")
	}

	archive, ok, err := store.Weights(t.Context(), "run-1")
	if err != nil || !ok {
		t.Fatalf("expected final weights, ok=%v err=%v", ok, err)
	}
	ws, err := weights.UnmarshalBinary(archive)
	if err != nil {
		t.Fatalf("decode weights: %v", err)
	}
	layout, err := policy.LayoutOf(ws)
	if err != nil {
		t.Fatalf("LayoutOf: %v", err)
	}
	if layout != (policy.Layout{InputSize: 4, LayerSize: 8, OutputSize: 3}) {
		t.Fatalf("unexpected layout %+v", layout)
	}

	points, err := store.Progress(t.Context(), "run-1")
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if len(points) != 2 || points[0].Iteration != 2 || points[1].Iteration != 4 {
		t.Fatalf("expected progress at iterations 2 and 4, got %+v", points)
	}

	events := sink.snapshot()
	var progress, trades int
	for _, e := range events {
		switch e.Type {
		case EventProgress:
			progress++
		case EventTrade:
			trades++
		}
	}
	if progress != 2 {
		t.Fatalf("expected 2 progress events, got %d", progress)
	}
	if trades != len(done.TradeLog.Events) {
		t.Fatalf("expected one event per trade, got %d for %d trades", trades, len(done.TradeLog.Events))
	}
	last := events[len(events)-1]
	if last.Type != EventCompleted || last.Iteration != 5 || last.Reward == nil {
		t.Fatalf("expected completed event last, got %+v", last)
	}

	body := scrape(t, prom)
	for _, want := range []string{
		`evolution_iterations_total{run_id="run-1"} 5`,
		`evolution_runs_total{status="completed"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func scrape(t *testing.T, p *metrics.Prometheus) string {
	t.Helper()
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestExecutorSameSeedSameResult(t *testing.T) {
	run := func() *models.RunMetrics {
		store := NewRunStore(nil)
		exec := NewRunExecutor(store)
		if _, err := store.Create("run", testInput()); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := exec.Start("run"); err != nil {
			t.Fatalf("Start: %v", err)
		}
		rec := waitForStatus(t, store, "run", models.RunStatusCompleted)
		exec.Wait()
		return rec.Run.Metrics
	}

	a, b := run(), run()
	if a.TrainReward != b.TrainReward || a.TestReward != b.TestReward || a.Buys != b.Buys || a.Sells != b.Sells {
		t.Fatalf("seeded runs diverged: %+v vs %+v", a, b)
	}
}

func TestExecutorCheckpointsWeights(t *testing.T) {
	store := NewRunStore(nil)
	exec := NewRunExecutor(store)

	input := testInput()
	input.ConfigYAML = strings.Replace(input.ConfigYAML, "checkpoint_every: 0", "checkpoint_every: 1", 1)
	if _, err := store.Create("run-1", input); err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec, _ := store.Get("run-1")
	if rec.Config.Training.CheckpointEvery != 1 {
		t.Fatalf("expected checkpoint_every 1, got %d", rec.Config.Training.CheckpointEvery)
	}
	if _, err := exec.Start("run-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, store, "run-1", models.RunStatusCompleted)
	exec.Wait()

	if _, ok, _ := store.Weights(t.Context(), "run-1"); !ok {
		t.Fatalf("expected weights")
	}
}

func TestExecutorStartErrors(t *testing.T) {
	store := NewRunStore(nil)
	exec := NewRunExecutor(store)

	if _, err := exec.Start(""); !errors.Is(err, ErrRunIDMissing) {
		t.Fatalf("expected ErrRunIDMissing, got %v", err)
	}
	if _, err := exec.Start("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if _, err := exec.Stop(""); !errors.Is(err, ErrRunIDMissing) {
		t.Fatalf("expected ErrRunIDMissing from Stop, got %v", err)
	}
	if _, err := exec.Stop("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound from Stop, got %v", err)
	}
}

func TestExecutorStopPendingRun(t *testing.T) {
	store := NewRunStore(nil)
	sink := &recordingSink{}
	exec := NewRunExecutor(store, WithEventSink(sink))

	if _, err := store.Create("run-1", testInput()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	stopped, err := exec.Stop("run-1")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stopped.Run.Status != models.RunStatusCancelled {
		t.Fatalf("expected cancelled, got %s", stopped.Run.Status)
	}
	if _, err := exec.Start("run-1"); !errors.Is(err, ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal, got %v", err)
	}
	if _, err := exec.Stop("run-1"); !errors.Is(err, ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal on second stop, got %v", err)
	}

	events := sink.snapshot()
	if len(events) != 1 || events[0].Type != EventCancelled {
		t.Fatalf("expected a single cancelled event, got %+v", events)
	}
}

func TestExecutorStopRunningRun(t *testing.T) {
	store := NewRunStore(nil)
	exec := NewRunExecutor(store)

	if _, err := store.Create("run-1", RunInput{ConfigYAML: longConfigYAML, Prices: testPrices(40)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := exec.Start("run-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	stopped, err := exec.Stop("run-1")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stopped.Run.Status != models.RunStatusCancelled {
		t.Fatalf("expected cancelled, got %s", stopped.Run.Status)
	}

	finished := make(chan struct{})
	go func() {
		exec.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatalf("training goroutine did not stop")
	}

	rec, _ := store.Get("run-1")
	if rec.Run.Status != models.RunStatusCancelled {
		t.Fatalf("stop should stand after training returns, got %s", rec.Run.Status)
	}
	if rec.Run.Metrics != nil {
		t.Fatalf("cancelled run should have no final metrics")
	}
}

func TestExecutorConcurrentStartRunsOnce(t *testing.T) {
	store := NewRunStore(nil)
	exec := NewRunExecutor(store)

	if _, err := store.Create("run-1", RunInput{ConfigYAML: longConfigYAML, Prices: testPrices(40)}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := exec.Start("run-1")
			if err == nil && rec.Run.Status != models.RunStatusRunning {
				err = errors.New("unexpected status " + string(rec.Run.Status))
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	}

	exec.mu.Lock()
	handles := len(exec.cancels)
	exec.mu.Unlock()
	if handles != 1 {
		t.Fatalf("expected one training goroutine, got %d handles", handles)
	}

	if _, err := exec.Stop("run-1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	exec.Wait()

	exec.mu.Lock()
	left := len(exec.cancels)
	exec.mu.Unlock()
	if left != 0 {
		t.Fatalf("expected handles to be released, got %d", left)
	}
	if rec, _ := store.Get("run-1"); rec.Run.Status != models.RunStatusCancelled {
		t.Fatalf("expected cancelled, got %s", rec.Run.Status)
	}
}

func TestExecutorShutdownStopsRuns(t *testing.T) {
	store := NewRunStore(nil)
	exec := NewRunExecutor(store)

	if _, err := store.Create("run-1", RunInput{ConfigYAML: longConfigYAML, Prices: testPrices(40)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := exec.Start("run-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := exec.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	rec, _ := store.Get("run-1")
	if rec.Run.Status != models.RunStatusCancelled {
		t.Fatalf("expected cancelled after shutdown, got %s", rec.Run.Status)
	}
}

func TestExecutorNotifiesCallback(t *testing.T) {
	received := make(chan NotificationPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Trainer-Callback-Secret") != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var payload NotificationPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
			received <- payload
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := NewRunStore(nil)
	exec := NewRunExecutor(store)

	input := testInput()
	input.CallbackURL = server.URL + "/hooks/{run_id}"
	input.CallbackSecret = "s3cret"
	if _, err := store.Create("run-1", input); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := exec.Start("run-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case payload := <-received:
		if payload.RunID != "run-1" || payload.Status != models.RunStatusCompleted {
			t.Fatalf("unexpected payload %+v", payload)
		}
		if payload.Metrics == nil || payload.Metrics.Iterations != 5 {
			t.Fatalf("expected metrics in payload, got %+v", payload.Metrics)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("callback not received")
	}
	exec.Wait()
}
