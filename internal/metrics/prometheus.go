package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoSim-25-26J-441/evolution-core/pkg/models"
)

const namespace = "evolution"

// Prometheus holds the exported training metrics on its own registry
type Prometheus struct {
	registry *prometheus.Registry

	iterations           *prometheus.CounterVec
	degenerateIterations *prometheus.CounterVec
	reward               *prometheus.GaugeVec
	evaluationSeconds    prometheus.Histogram
	trades               *prometheus.CounterVec
	runs                 *prometheus.CounterVec
}

// NewPrometheus registers the training metrics plus the Go and process
// collectors on a fresh registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		iterations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Completed evolution strategy iterations",
		}, []string{"run_id"}),
		degenerateIterations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degenerate_iterations_total",
			Help:      "Iterations skipped because every population reward was equal",
		}, []string{"run_id"}),
		reward: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reward",
			Help:      "Latest reward of the current weights",
		}, []string{"run_id", "split"}),
		evaluationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reward_evaluation_seconds",
			Help:      "Duration of one population member's reward evaluation",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		trades: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Trades executed in logged replays",
		}, []string{"action"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Training runs by final status",
		}, []string{"status"}),
	}
}

// Registry exposes the registry, mainly for tests
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// SetReward sets the reward gauge for a run and split ("train" or "test")
func (p *Prometheus) SetReward(runID, split string, reward float64) {
	p.reward.WithLabelValues(runID, split).Set(reward)
}

// AddTrades counts the trades of a logged replay
func (p *Prometheus) AddTrades(action models.Action, n int) {
	p.trades.WithLabelValues(action.String()).Add(float64(n))
}

// RunFinished counts a run reaching a terminal status
func (p *Prometheus) RunFinished(status models.RunStatus) {
	p.runs.WithLabelValues(string(status)).Inc()
}

// RunObserver returns an observer that attributes iterations to runID
func (p *Prometheus) RunObserver(runID string) *RunObserver {
	return &RunObserver{
		evaluation: p.evaluationSeconds,
		iterations: p.iterations.WithLabelValues(runID),
		degenerate: p.degenerateIterations.WithLabelValues(runID),
	}
}

// RunObserver feeds one run's optimizer events into the Prometheus metrics
type RunObserver struct {
	evaluation prometheus.Observer
	iterations prometheus.Counter
	degenerate prometheus.Counter
}

// ObserveEvaluation records one reward evaluation
func (o *RunObserver) ObserveEvaluation(d time.Duration) {
	o.evaluation.Observe(d.Seconds())
}

// ObserveIteration counts a finished iteration
func (o *RunObserver) ObserveIteration(_ int, degenerate bool) {
	o.iterations.Inc()
	if degenerate {
		o.degenerate.Inc()
	}
}
