package market

import (
	"fmt"

	"github.com/GoSim-25-26J-441/evolution-core/pkg/config"
)

// SimulationConfig holds the read-only parameters shared by every replay
type SimulationConfig struct {
	InitialMoney float64
	MaxBuy       float64
	MaxSell      float64
	WindowSize   int
	Skip         int
}

// FromAgentConfig converts the agent section of the YAML config
func FromAgentConfig(a config.Agent) SimulationConfig {
	return SimulationConfig{
		InitialMoney: a.InitialMoney,
		MaxBuy:       a.MaxBuy,
		MaxSell:      a.MaxSell,
		WindowSize:   a.WindowSize,
		Skip:         a.Skip,
	}
}

// Validate rejects parameters the simulation cannot run with
func (c SimulationConfig) Validate() error {
	if c.InitialMoney <= 0 {
		return fmt.Errorf("initial money must be positive, got %f", c.InitialMoney)
	}
	if c.MaxBuy <= 0 {
		return fmt.Errorf("max buy must be positive, got %f", c.MaxBuy)
	}
	if c.MaxSell <= 0 {
		return fmt.Errorf("max sell must be positive, got %f", c.MaxSell)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("window size must be positive, got %d", c.WindowSize)
	}
	if c.Skip <= 0 {
		return fmt.Errorf("skip must be positive, got %d", c.Skip)
	}
	return nil
}
