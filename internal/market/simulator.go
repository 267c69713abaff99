package market

import (
	"fmt"

	"github.com/GoSim-25-26J-441/evolution-core/internal/policy"
	"github.com/GoSim-25-26J-441/evolution-core/internal/weights"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/models"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/utils"
)

// Simulator replays a price series under a policy. It keeps no state between
// calls, so one Simulator can serve concurrent reward evaluations.
type Simulator struct {
	cfg SimulationConfig
}

// NewSimulator validates cfg and returns a simulator
func NewSimulator(cfg SimulationConfig) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulation config: %w", err)
	}
	return &Simulator{cfg: cfg}, nil
}

// Config returns the simulation parameters
func (s *Simulator) Config() SimulationConfig {
	return s.cfg
}

// account is the per-call trading state
type account struct {
	cash      float64
	inventory []float64 // cost basis per buy, oldest first
	quantity  float64
}

// buyUnits sizes a buy from the policy's signal. A negative signal buys 10% of
// cash worth; a signal beyond cash or max buy is clamped to 90% of cash worth
// and max buy.
func (s *Simulator) buyUnits(cash, price, signal float64) float64 {
	switch {
	case signal < 0:
		return cash * 0.1 / price
	case signal*price > cash || signal > s.cfg.MaxBuy:
		return utils.MinFloat64(cash*0.9/price, s.cfg.MaxBuy)
	default:
		return signal
	}
}

func (s *Simulator) sellUnits(quantity float64) float64 {
	if quantity > s.cfg.MaxSell {
		return s.cfg.MaxSell
	}
	return quantity
}

// SimulateForReward replays prices with ws and returns the percentage return
// on initial money.
//
// Sells here do not consume the cost-basis queue: inventory only grows and is
// used for its emptiness check, while quantity tracks the holdings. Trained
// policies depend on this reward landscape, so it is kept as is.
func (s *Simulator) SimulateForReward(prices []float64, ws *weights.Set) (float64, error) {
	acct, err := s.replay(prices, ws, nil)
	if err != nil {
		return 0, err
	}
	return utils.PercentChange(s.cfg.InitialMoney, acct.cash), nil
}

// SimulateAndLog replays prices with ws and records every executed trade.
// Each sell pops the oldest cost basis to compute the investment percentage.
func (s *Simulator) SimulateAndLog(prices []float64, ws *weights.Set) (*TradeLog, error) {
	log := &TradeLog{InitialMoney: s.cfg.InitialMoney}
	acct, err := s.replay(prices, ws, log)
	if err != nil {
		return nil, err
	}
	log.finish(acct.cash, acct.quantity, len(acct.inventory))
	return log, nil
}

// replay runs the trading state machine. With a nil log it is the reward path;
// otherwise sells pop the FIFO cost basis and every trade is recorded.
func (s *Simulator) replay(prices []float64, ws *weights.Set, log *TradeLog) (*account, error) {
	if len(prices) < 2 {
		return nil, fmt.Errorf("price series needs at least 2 points, got %d", len(prices))
	}
	layout, err := policy.LayoutOf(ws)
	if err != nil {
		return nil, fmt.Errorf("policy weights: %w", err)
	}
	if layout.InputSize != s.cfg.WindowSize {
		return nil, fmt.Errorf("policy weights: %w", &policy.InputShapeError{Want: layout.InputSize, Got: s.cfg.WindowSize})
	}

	acct := &account{cash: s.cfg.InitialMoney}
	length := len(prices) - 1

	for t := 0; t < length; t += s.cfg.Skip {
		state, err := StateWindow(prices, t, s.cfg.WindowSize+1)
		if err != nil {
			return nil, err
		}
		action, signal, err := policy.Act(ws, state)
		if err != nil {
			return nil, fmt.Errorf("t=%d: %w", t, err)
		}

		switch {
		case action == models.ActionBuy && acct.cash > 0:
			units := s.buyUnits(acct.cash, prices[t], signal)
			cost := units * prices[t]
			acct.cash -= cost
			acct.inventory = append(acct.inventory, cost)
			acct.quantity += units
			if log != nil {
				log.recordBuy(t, units, cost, acct.cash)
			}

		case action == models.ActionSell && len(acct.inventory) > 0:
			var boughtPrice float64
			if log != nil {
				boughtPrice = acct.inventory[0]
				acct.inventory = acct.inventory[1:]
			}
			units := s.sellUnits(acct.quantity)
			if units <= 0 {
				continue
			}
			acct.quantity -= units
			proceeds := units * prices[t]
			acct.cash += proceeds
			if log != nil {
				log.recordSell(t, units, proceeds, acct.cash, utils.PercentChange(boughtPrice, proceeds))
			}
		}
	}
	return acct, nil
}

// RewardFunc binds prices to SimulateForReward, giving the weights-to-reward
// callback the evolution strategy optimises.
func (s *Simulator) RewardFunc(prices []float64) func(*weights.Set) (float64, error) {
	return func(ws *weights.Set) (float64, error) {
		return s.SimulateForReward(prices, ws)
	}
}
