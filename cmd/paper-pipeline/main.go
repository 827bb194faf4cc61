package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/quantfold/sigflow/internal/config"
	"github.com/quantfold/sigflow/internal/executor"
	"github.com/quantfold/sigflow/internal/logger"
	"github.com/quantfold/sigflow/internal/pipeline"
	"github.com/quantfold/sigflow/internal/portfolio"
	"github.com/quantfold/sigflow/internal/reporting"
	"github.com/quantfold/sigflow/internal/risk"
	"github.com/quantfold/sigflow/pkg/types"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Configuration file (e.g., config.yaml)")
		signalsFile = flag.String("signals", "", "Signal batch file to replay (JSON array of batches)")
		reportFile  = flag.String("report", "", "Excel report output path (default: reports/paper_<date>.xlsx)")
		envFile     = flag.String("env", ".env", "Environment file path (default: .env)")
	)
	flag.Parse()

	if *signalsFile == "" {
		log.Fatal("Please specify a signal file with -signals flag")
	}

	if _, err := os.Stat(*envFile); err == nil {
		if err := godotenv.Load(*envFile); err != nil {
			log.Printf("Warning: Could not load .env file: %v", err)
		}
	}

	fmt.Println("📄 Paper Pipeline Starting...")

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Mode = "paper"

	batches, err := loadSignalBatches(*signalsFile)
	if err != nil {
		log.Fatalf("Failed to load signals: %v", err)
	}
	fmt.Printf("📊 Loaded %d signal batches from %s\n", len(batches), *signalsFile)

	agg, err := portfolio.New(portfolio.Config{
		Mode:                   portfolio.ResolutionMode(cfg.Portfolio.Mode),
		StrategyPriorities:     cfg.Portfolio.StrategyPriorities,
		DefaultSize:            cfg.Portfolio.DefaultSize,
		MaxPositionPerStrategy: cfg.Portfolio.MaxPositionPerStrategy,
		MaxPositionPerSymbol:   cfg.Portfolio.MaxPositionPerSymbol,
		MaxPortfolioPosition:   cfg.Portfolio.MaxPortfolioPosition,
	})
	if err != nil {
		log.Fatalf("Failed to build aggregator: %v", err)
	}

	limits := risk.Limits{
		MaxPositionPerStrategy: cfg.Risk.MaxPositionPerStrategy,
		MaxPositionPerSymbol:   cfg.Risk.MaxPositionPerSymbol,
		MaxPortfolioPosition:   cfg.Risk.MaxPortfolioPosition,
		MaxDailyLoss:           cfg.Risk.MaxDailyLoss,
	}
	gate, err := risk.NewManager(limits)
	if err != nil {
		log.Fatalf("Failed to build risk gate: %v", err)
	}

	engine, err := executor.NewSimulatedEngine(executor.SimConfig{
		FillDelay:        cfg.Executor.FillDelay,
		MaxSlippageTicks: cfg.Executor.MaxSlippageTicks,
		TickSize:         cfg.Executor.TickSize,
	})
	if err != nil {
		log.Fatalf("Failed to build executor: %v", err)
	}

	sessionLog, err := logger.NewLogger("paper", cfg.Executor.Symbol)
	if err != nil {
		log.Fatalf("Failed to open session log: %v", err)
	}
	defer sessionLog.Close()

	pipe, err := pipeline.New(pipeline.Options{
		Aggregator:    agg,
		RiskGate:      gate,
		Engine:        engine,
		SessionLog:    sessionLog,
		FlattenOnTrip: true,
	})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	if err := engine.Start(); err != nil {
		log.Fatalf("Executor startup failed: %v", err)
	}

	reporting.PrintStartupInfo("paper", cfg.Executor.Symbol, cfg.Portfolio.Mode, cfg.Portfolio.DefaultSize, limits)

	// Replay each batch as one scan cycle, draining between cycles so
	// fills from batch N are on the books before batch N+1 resolves.
	for i, batch := range batches {
		// Market prices first, so unrealized P&L tracks the replay.
		for _, sig := range batch {
			pipe.Ledger().UpdateMarketPrice(sig.Symbol, sig.ClosePrice)
		}

		submitted := pipe.RunCycle(batch)
		drainSubmitted(pipe, submitted)
		fmt.Printf("  cycle %d/%d: %d signals, %d submitted\n", i+1, len(batches), len(batch), submitted)
	}

	engine.Stop()
	pipe.DrainResults()

	status := pipe.Status()
	reporting.PrintPortfolioStatus(status.Portfolio, status.Risk)
	reporting.PrintSessionSummary(pipe.History(), status.Portfolio)

	stats := engine.Stats()
	fmt.Printf("📈 Simulated fills: %d, realized P&L: $%.2f\n", stats.Executed, stats.RealizedPnL)

	path := *reportFile
	if path == "" {
		path = fmt.Sprintf("reports/paper_%s.xlsx", time.Now().Format("2006-01-02_150405"))
	}
	if err := reporting.WriteSessionXLSX(pipe.History(), status.Portfolio, path); err != nil {
		log.Fatalf("Failed to write report: %v", err)
	}
	fmt.Printf("✅ Session report written to %s\n", path)
}

// drainSubmitted blocks until every submitted request has a result.
func drainSubmitted(pipe *pipeline.Pipeline, submitted int) {
	deadline := time.Now().Add(30 * time.Second)
	got := 0
	for got < submitted && time.Now().Before(deadline) {
		got += len(pipe.DrainResults())
		time.Sleep(10 * time.Millisecond)
	}
}

// loadSignalBatches reads a JSON file holding an array of signal
// batches, each batch being one scan cycle's signals.
func loadSignalBatches(path string) ([][]types.Signal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var batches [][]types.Signal
	if err := json.Unmarshal(data, &batches); err != nil {
		return nil, fmt.Errorf("invalid batch file: %w", err)
	}

	for _, batch := range batches {
		for _, sig := range batch {
			if !sig.SignalType.Valid() {
				return nil, fmt.Errorf("invalid signal type %q for %s", sig.SignalType, sig.Symbol)
			}
		}
	}
	return batches, nil
}
