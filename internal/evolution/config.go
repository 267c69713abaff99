package evolution

import (
	"fmt"

	"github.com/GoSim-25-26J-441/evolution-core/pkg/config"
)

// Config holds the hyperparameters of the evolution strategy
type Config struct {
	PopulationSize int
	Sigma          float64
	LearningRate   float64
	// Seed makes perturbation sampling reproducible. Zero seeds from the clock.
	Seed int64
	// Workers bounds concurrent reward evaluations. Zero means one per member.
	Workers int
}

// DefaultConfig returns the standard hyperparameters: population 15, sigma 0.1, learning rate 0.03
func DefaultConfig() Config {
	return Config{
		PopulationSize: 15,
		Sigma:          0.1,
		LearningRate:   0.03,
	}
}

// FromStrategyConfig converts the strategy section of the YAML config
func FromStrategyConfig(s config.Strategy) Config {
	return Config{
		PopulationSize: s.PopulationSize,
		Sigma:          s.Sigma,
		LearningRate:   s.LearningRate,
		Seed:           s.Seed,
		Workers:        s.Workers,
	}
}

// Validate checks every hyperparameter and returns the first *ConfigurationError
func (c Config) Validate() error {
	if c.PopulationSize <= 0 {
		return &ConfigurationError{Field: "population_size", Value: c.PopulationSize}
	}
	if !(c.Sigma > 0) {
		return &ConfigurationError{Field: "sigma", Value: c.Sigma}
	}
	if !(c.LearningRate > 0) {
		return &ConfigurationError{Field: "learning_rate", Value: c.LearningRate}
	}
	if c.Workers < 0 {
		return &ConfigurationError{Field: "workers", Value: c.Workers}
	}
	return nil
}

func (c Config) workers() int {
	if c.Workers == 0 || c.Workers > c.PopulationSize {
		return c.PopulationSize
	}
	return c.Workers
}

func (c Config) String() string {
	return fmt.Sprintf("population=%d sigma=%g learning_rate=%g workers=%d", c.PopulationSize, c.Sigma, c.LearningRate, c.workers())
}
