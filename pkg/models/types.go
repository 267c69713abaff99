package models

import (
	"fmt"
	"time"
)

// Action is a trading decision selected by argmax over the policy's decision scores.
type Action int

const (
	ActionHold Action = 0
	ActionBuy  Action = 1
	ActionSell Action = 2
)

// NumActions is the width of the policy's decision row
const NumActions = 3

func (a Action) String() string {
	switch a {
	case ActionHold:
		return "hold"
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// TradeEvent is one executed buy or sell in a replayed simulation.
// InvestmentPct is only set for sells; buys encode it as null.
type TradeEvent struct {
	Day           int      `json:"day"`
	Action        string   `json:"action"`
	Units         float64  `json:"units"`
	PriceTotal    float64  `json:"price_total"`
	Balance       float64  `json:"balance"`
	InvestmentPct *float64 `json:"investment_pct"`
}

// String renders the event in the console format used by the replay report.
func (e TradeEvent) String() string {
	if e.InvestmentPct == nil {
		return fmt.Sprintf("day %d: %s %f units at price %f, total balance %f",
			e.Day, e.Action, e.Units, e.PriceTotal, e.Balance)
	}
	return fmt.Sprintf("day %d, %s %f units at price %f, investment %f %%, total balance %f,",
		e.Day, e.Action, e.Units, e.PriceTotal, *e.InvestmentPct, e.Balance)
}

// ProgressPoint is a periodic training report: the reward of the unperturbed weights.
type ProgressPoint struct {
	Iteration int       `json:"iteration"`
	Reward    float64   `json:"reward"`
	At        time.Time `json:"at"`
}

// RunStatus represents the lifecycle state of a training run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// Run represents a training run
type Run struct {
	ID          string      `json:"id"`
	Status      RunStatus   `json:"status"`
	ConfigYAML  string      `json:"config_yaml,omitempty"`
	Prices      []float64   `json:"-"`
	CallbackURL string      `json:"callback_url,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   time.Time   `json:"started_at,omitempty"`
	EndedAt     time.Time   `json:"ended_at,omitempty"`
	Iteration   int         `json:"iteration"`
	LastReward  float64     `json:"last_reward"`
	Metrics     *RunMetrics `json:"metrics,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// RunMetrics summarises a finished training run
type RunMetrics struct {
	Iterations     int     `json:"iterations"`
	TrainReward    float64 `json:"train_reward"`
	TestReward     float64 `json:"test_reward"`
	TotalGained    float64 `json:"total_gained"`
	Buys           int     `json:"buys"`
	Sells          int     `json:"sells"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// MetricPoint represents a single metric data point
type MetricPoint struct {
	Step      int               `json:"step"`
	Timestamp time.Time         `json:"timestamp"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Aggregation represents aggregated statistics for a metric
type Aggregation struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Last  float64 `json:"last"`
}
