package metrics

import (
	"time"

	"github.com/GoSim-25-26J-441/evolution-core/pkg/models"
)

// Common metric names
const (
	MetricTrainReward = "train_reward"
	MetricTestReward  = "test_reward"
	MetricTradeCount  = "trade_count"
)

// RecordTrainReward records the reward of the unperturbed weights at an iteration
func RecordTrainReward(collector *Collector, iteration int, reward float64, timestamp time.Time, labels map[string]string) {
	collector.Record(MetricTrainReward, iteration, reward, timestamp, labels)
}

// RecordTestReward records the reward of a held-out replay
func RecordTestReward(collector *Collector, iteration int, reward float64, timestamp time.Time, labels map[string]string) {
	collector.Record(MetricTestReward, iteration, reward, timestamp, labels)
}

// RecordTradeCount records the number of executed trades of one action
func RecordTradeCount(collector *Collector, iteration int, action models.Action, count int, timestamp time.Time) {
	collector.Record(MetricTradeCount, iteration, float64(count), timestamp, CreateActionLabels(action))
}

// CreateActionLabels creates a labels map for a trade action
func CreateActionLabels(action models.Action) map[string]string {
	return map[string]string{
		"action": action.String(),
	}
}

// ProgressPoints converts the train reward series into progress points
func ProgressPoints(collector *Collector, labels map[string]string) []models.ProgressPoint {
	points := collector.GetTimeSeries(MetricTrainReward, labels)
	out := make([]models.ProgressPoint, len(points))
	for i, p := range points {
		out[i] = models.ProgressPoint{Iteration: p.Step, Reward: p.Value, At: p.Timestamp}
	}
	return out
}
