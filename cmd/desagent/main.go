// Command desagent trains a trading policy offline on a price series and
// replays the held-out part, printing every trade and the final summary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/GoSim-25-26J-441/evolution-core/internal/evolution"
	"github.com/GoSim-25-26J-441/evolution-core/internal/market"
	"github.com/GoSim-25-26J-441/evolution-core/internal/policy"
	"github.com/GoSim-25-26J-441/evolution-core/internal/weights"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/config"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/logger"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/utils"
)

type options struct {
	configPath  string
	pricesPath  string
	iterations  int
	outPath     string
	weightsPath string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "training config file (defaults are used when empty)")
	flag.StringVar(&opts.pricesPath, "prices", "", "price series: CSV with a close column, or one value per line")
	flag.IntVar(&opts.iterations, "iterations", 0, "override training.iterations")
	flag.StringVar(&opts.outPath, "out", "", "write the trained weights archive to this path")
	flag.StringVar(&opts.weightsPath, "weights", "", "load a weights archive instead of training")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		logger.Error("desagent failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	if opts.pricesPath == "" {
		return errors.New("-prices is required")
	}

	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
		cfg = *loaded
	}
	if opts.iterations > 0 {
		cfg.Training.Iterations = opts.iterations
	}
	logger.SetDefault(logger.NewText(cfg.LogLevel, os.Stderr))

	prices, err := readPricesFile(opts.pricesPath)
	if err != nil {
		return err
	}
	train, test, err := market.Split(prices, cfg.Agent.TestSize)
	if err != nil {
		return err
	}
	sim, err := market.NewSimulator(market.FromAgentConfig(cfg.Agent))
	if err != nil {
		return err
	}

	var ws *weights.Set
	if opts.weightsPath != "" {
		ws, err = loadWeights(opts.weightsPath, cfg.Agent.WindowSize)
	} else {
		ws, err = trainPolicy(ctx, &cfg, sim, train)
	}
	if err != nil {
		return err
	}

	if opts.outPath != "" {
		if err := ws.SaveFile(opts.outPath); err != nil {
			return err
		}
		logger.Info("weights saved", "path", opts.outPath)
	}

	tradeLog, err := sim.SimulateAndLog(test, ws)
	if err != nil {
		return err
	}
	fmt.Println(tradeLog.String())
	return nil
}

func loadWeights(path string, windowSize int) (*weights.Set, error) {
	ws, err := weights.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if !ws.AllFinite() {
		return nil, fmt.Errorf("%s: archive holds non-finite weights", path)
	}
	layout, err := policy.LayoutOf(ws)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if layout.InputSize != windowSize {
		return nil, fmt.Errorf("%s: input layer takes %d prices, window_size is %d", path, layout.InputSize, windowSize)
	}
	return ws, nil
}

func trainPolicy(ctx context.Context, cfg *config.Config, sim *market.Simulator, prices []float64) (*weights.Set, error) {
	rng := utils.NewRandSource(cfg.Strategy.Seed)
	model, err := policy.NewDESModel(policy.Layout{
		InputSize:  cfg.Agent.WindowSize,
		LayerSize:  cfg.Model.LayerSize,
		OutputSize: cfg.Model.OutputSize,
	}, rng)
	if err != nil {
		return nil, err
	}

	evoCfg := evolution.FromStrategyConfig(cfg.Strategy)
	evoCfg.Seed = rng.Child().Seed()
	strategy, err := evolution.NewStrategy(model.Weights(), sim.RewardFunc(prices), evoCfg)
	if err != nil {
		return nil, err
	}

	result, err := strategy.Train(ctx, cfg.Training.Iterations, cfg.Training.ReportEvery)
	if err != nil {
		return nil, err
	}
	logger.Info("time taken to train", "seconds", result.Elapsed.Seconds())
	return result.Weights, nil
}
