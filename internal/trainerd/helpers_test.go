package trainerd

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/evolution-core/pkg/models"
)

const testConfigYAML = `
log_level: info
agent:
  initial_money: 1000
  max_buy: 5
  max_sell: 5
  window_size: 4
  skip: 1
  test_size: 0.25
model:
  layer_size: 8
  output_size: 3
strategy:
  population_size: 6
  sigma: 0.1
  learning_rate: 0.03
  seed: 7
  workers: 2
training:
  iterations: 5
  report_every: 2
  checkpoint_every: 0
`

// longConfigYAML trains long enough that a test can stop it mid-run
const longConfigYAML = `
agent:
  initial_money: 1000
  max_buy: 5
  max_sell: 5
  window_size: 4
  test_size: 0.25
model:
  layer_size: 8
strategy:
  population_size: 4
  seed: 3
training:
  iterations: 10000000
  report_every: 1000000
`

func testPrices(n int) []float64 {
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = 100 + 10*math.Sin(float64(i)/3) + float64(i)/5
	}
	return prices
}

func testInput() RunInput {
	return RunInput{ConfigYAML: testConfigYAML, Prices: testPrices(40)}
}

// recordingSink keeps every published event in order
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *recordingSink) Publish(_ context.Context, events ...Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func waitForStatus(t *testing.T, store *RunStore, runID string, want models.RunStatus) *RunRecord {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec, ok := store.Get(runID)
		if !ok {
			t.Fatalf("run %s disappeared", runID)
		}
		if rec.Run.Status == want {
			return rec
		}
		if rec.Run.Status.IsTerminal() {
			t.Fatalf("run %s ended as %s (error %q), want %s", runID, rec.Run.Status, rec.Run.Error, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for run %s to reach %s", runID, want)
	return nil
}
