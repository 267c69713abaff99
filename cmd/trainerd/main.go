package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"

	"github.com/GoSim-25-26J-441/evolution-core/internal/metrics"
	"github.com/GoSim-25-26J-441/evolution-core/internal/storage"
	"github.com/GoSim-25-26J-441/evolution-core/internal/trainerd"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/config"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/logger"
)

func main() {
	var configPath string
	var grpcAddr string
	var httpAddr string
	var logLevel string
	var writeRate float64

	flag.StringVar(&configPath, "config", "", "daemon config file; its storage and events sections are used")
	flag.StringVar(&grpcAddr, "grpc-addr", ":50051", "gRPC listen address")
	flag.StringVar(&httpAddr, "http-addr", ":8080", "HTTP listen address")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")
	flag.Float64Var(&writeRate, "write-rate", 20, "create/start/stop requests per second over HTTP; 0 disables the limit")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			logger.Error("failed to load config", "path", configPath, "error", err)
			os.Exit(1)
		}
		cfg = *loaded
	}
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	logger.SetDefault(logger.NewText(logLevel, os.Stdout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	persist, err := storage.FromConfig(cfg.Storage)
	if err != nil {
		logger.Error("invalid storage config", "error", err)
		os.Exit(1)
	}
	if err := persist.Init(ctx); err != nil {
		logger.Error("failed to initialise storage", "error", err)
		os.Exit(1)
	}
	defer persist.Close()

	store := trainerd.NewRunStore(persist)
	if n, err := store.Restore(ctx); err != nil {
		logger.Error("failed to restore runs", "error", err)
		os.Exit(1)
	} else if n > 0 {
		logger.Info("restored runs", "count", n)
	}

	sink := trainerd.NewEventSink(cfg.Events)
	defer sink.Close()

	prom := metrics.NewPrometheus()
	executor := trainerd.NewRunExecutor(store,
		trainerd.WithPrometheus(prom),
		trainerd.WithEventSink(sink),
	)

	// TODO: add TLS and authentication before exposing the gRPC port beyond localhost.
	grpcServer := grpc.NewServer()
	trainerd.RegisterTrainerServer(grpcServer, trainerd.NewTrainerGRPCServer(store, executor))

	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logger.Error("failed to listen for gRPC", "addr", grpcAddr, "error", err)
		stop()
		os.Exit(1)
	}

	httpServer := trainerd.NewHTTPServer(store, executor, prom)
	httpServer.SetRateLimit(rate.Limit(writeRate), int(2*writeRate))

	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("gRPC server listening", "addr", grpcAddr)
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Error("gRPC server error", "error", err)
			stop()
		}
	}()

	go func() {
		logger.Info("HTTP server listening", "addr", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown requested")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.GracefulStop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	if err := executor.Shutdown(shutdownCtx); err != nil {
		logger.Error("executor shutdown error", "error", err)
	}
}
