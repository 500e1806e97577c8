// Package main is the entry point for the Phoenix triangular arbitrage core.
// It wires the detection, sizing, execution, recovery and harvesting modules
// together, starts the trading engine and exposes the HTTP control plane.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arbiphoenix/phoenix/internal/config"
	"github.com/arbiphoenix/phoenix/internal/domain"
	"github.com/arbiphoenix/phoenix/internal/engine"
	"github.com/arbiphoenix/phoenix/internal/events"
	"github.com/arbiphoenix/phoenix/internal/gateway"
	"github.com/arbiphoenix/phoenix/internal/modules/detector"
	"github.com/arbiphoenix/phoenix/internal/modules/execution"
	"github.com/arbiphoenix/phoenix/internal/modules/harvest"
	"github.com/arbiphoenix/phoenix/internal/modules/recovery"
	"github.com/arbiphoenix/phoenix/internal/modules/sizing"
	"github.com/arbiphoenix/phoenix/internal/scheduler"
	"github.com/arbiphoenix/phoenix/internal/server"
	"github.com/arbiphoenix/phoenix/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("gateway", cfg.GatewayVariant).Msg("Starting Phoenix")

	clock := domain.RealClock{}
	eventManager := events.NewManager(log)

	// The sim gateway stands in for broker connectivity, which lives outside
	// this service. It doubles as the pair provider for the price book.
	gw := gateway.NewSim(cfg.GatewayVariant, cfg.DefaultContractSize, clock, log)
	seedUniverse(gw)

	det := detector.New(detector.Config{
		MinProfitPips: cfg.MinArbitrageProfit,
		MaxSpreadCost: cfg.MaxSpreadCost,
	}, clock, log)

	sizer := sizing.New(nil, cfg.DefaultContractSize, nil, log)

	coord, err := execution.New(gw, execution.Config{
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
	}, eventManager, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create execution coordinator")
	}

	tracker := recovery.NewCorrelationTracker(recovery.Thresholds{
		Strong: cfg.StrongCorrelation,
		Medium: cfg.MediumCorrelation,
		Weak:   cfg.WeakCorrelation,
	}, log)

	recoveryManager := recovery.NewManager(recovery.Config{
		MaxLayers:          cfg.MaxRecoveryLayers,
		Multiplier:         cfg.RecoveryMultiplier,
		MaxDrawdownTrigger: cfg.MaxDrawdownTrigger,
		MaxRecoveryTime:    cfg.MaxRecoveryTime,
		MinLot:             cfg.MinLot,
		LotStep:            cfg.LotStep,
	}, coord, tracker, clock, eventManager, log)

	harvester := harvest.New(harvest.Config{
		Levels:              cfg.ProfitLevels,
		Percentages:         cfg.ProfitPercentages,
		TrailingStopPips:    cfg.TrailingStopPips,
		BreakevenTrigger:    cfg.BreakevenTrigger,
		MaxPositionTime:     cfg.MaxPositionTime,
		OptimizationEnabled: cfg.OptimizationEnabled,
		MinLot:              cfg.MinLot,
		LotStep:             cfg.LotStep,
	}, coord, clock, eventManager, log)

	eng, err := engine.New(cfg, engine.Deps{
		Provider:    gw,
		Detector:    det,
		Sizer:       sizer,
		Coordinator: coord,
		Recovery:    recoveryManager,
		Tracker:     tracker,
		Harvester:   harvester,
		Events:      eventManager,
		Clock:       clock,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine")
	}

	sched := scheduler.New(log)
	if err := sched.AddJob("@every 5m", &scheduler.CorrelationRefreshJob{Tracker: tracker}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register correlation refresh job")
	}
	if err := sched.AddJob("@hourly", &scheduler.HarvestOptimizeJob{Harvester: harvester}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register harvest optimize job")
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:      log,
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
		Handlers: server.NewHandlers(eng, recoveryManager, harvester, log),
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	if err := eng.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start engine")
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	sched.Stop()
	if err := eng.Stop(); err != nil {
		log.Error().Err(err).Msg("Engine shutdown failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}

// seedUniverse registers the major pair universe with indicative mid prices
// so the scan loop has a book before live prices arrive.
func seedUniverse(gw *gateway.Sim) {
	type seed struct {
		base, quote string
		mid         float64
		spread      float64
	}
	seeds := []seed{
		{"EUR", "USD", 1.0850, 0.6},
		{"GBP", "USD", 1.2650, 0.9},
		{"USD", "JPY", 149.50, 0.7},
		{"USD", "CHF", 0.8790, 1.0},
		{"AUD", "USD", 0.6520, 0.8},
		{"USD", "CAD", 1.3610, 0.9},
		{"NZD", "USD", 0.5920, 1.1},
		{"EUR", "GBP", 0.8577, 1.0},
		{"EUR", "JPY", 162.21, 1.1},
		{"GBP", "JPY", 189.12, 1.5},
		{"EUR", "CHF", 0.9537, 1.2},
		{"AUD", "JPY", 97.47, 1.3},
	}

	for _, s := range seeds {
		name := s.base + s.quote
		gw.SetPair(domain.CurrencyPair{
			Symbol:        name,
			StandardName:  name,
			BaseCurrency:  s.base,
			QuoteCurrency: s.quote,
			Spread:        s.spread,
			MinLot:        0.01,
			MaxLot:        100,
			LotStep:       0.01,
			Digits:        5,
			IsTradeable:   true,
			Category:      "major",
		})
		gw.SetPrice(name, s.mid)
	}
}
