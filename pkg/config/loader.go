package config

import (
	"fmt"
	"os"
)

// LoadConfig loads and parses a configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// validateConfig performs validation on the configuration
func validateConfig(cfg *Config) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}

	if err := validateAgent(&cfg.Agent); err != nil {
		return fmt.Errorf("agent validation failed: %w", err)
	}
	if err := validateModel(&cfg.Model); err != nil {
		return fmt.Errorf("model validation failed: %w", err)
	}
	if err := validateStrategy(&cfg.Strategy); err != nil {
		return fmt.Errorf("strategy validation failed: %w", err)
	}
	if err := validateTraining(&cfg.Training); err != nil {
		return fmt.Errorf("training validation failed: %w", err)
	}

	if cfg.Storage != nil {
		if err := validateStorage(cfg.Storage); err != nil {
			return fmt.Errorf("storage validation failed: %w", err)
		}
	}

	if cfg.Events != nil {
		if len(cfg.Events.KafkaBrokers) > 0 && cfg.Events.KafkaTopic == "" {
			return fmt.Errorf("events validation failed: kafka_topic is required when kafka_brokers are set")
		}
	}

	return nil
}

func validateAgent(a *Agent) error {
	if a.InitialMoney <= 0 {
		return fmt.Errorf("initial_money must be positive, got %f", a.InitialMoney)
	}
	if a.MaxBuy <= 0 {
		return fmt.Errorf("max_buy must be positive, got %f", a.MaxBuy)
	}
	if a.MaxSell <= 0 {
		return fmt.Errorf("max_sell must be positive, got %f", a.MaxSell)
	}
	if a.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive, got %d", a.WindowSize)
	}
	if a.Skip <= 0 {
		return fmt.Errorf("skip must be positive, got %d", a.Skip)
	}
	if a.TestSize < 0 || a.TestSize >= 1 {
		return fmt.Errorf("test_size must be in [0, 1), got %f", a.TestSize)
	}
	return nil
}

func validateModel(m *Model) error {
	if m.LayerSize <= 0 {
		return fmt.Errorf("layer_size must be positive, got %d", m.LayerSize)
	}
	if m.OutputSize != 3 {
		return fmt.Errorf("output_size must be 3 (hold, buy, sell), got %d", m.OutputSize)
	}
	return nil
}

func validateStrategy(s *Strategy) error {
	if s.PopulationSize <= 0 {
		return fmt.Errorf("population_size must be positive, got %d", s.PopulationSize)
	}
	if s.Sigma <= 0 {
		return fmt.Errorf("sigma must be positive, got %f", s.Sigma)
	}
	if s.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %f", s.LearningRate)
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", s.Workers)
	}
	return nil
}

func validateTraining(t *Training) error {
	if t.Iterations <= 0 {
		return fmt.Errorf("iterations must be positive, got %d", t.Iterations)
	}
	if t.ReportEvery <= 0 {
		return fmt.Errorf("report_every must be positive, got %d", t.ReportEvery)
	}
	if t.CheckpointEvery < 0 {
		return fmt.Errorf("checkpoint_every cannot be negative, got %d", t.CheckpointEvery)
	}
	return nil
}

func validateStorage(s *Storage) error {
	switch s.Driver {
	case "memory":
		return nil
	case "sqlite", "postgres":
		if s.DSN == "" {
			return fmt.Errorf("dsn is required for driver %s", s.Driver)
		}
		return nil
	default:
		return fmt.Errorf("invalid driver: %s (must be memory, sqlite, or postgres)", s.Driver)
	}
}
