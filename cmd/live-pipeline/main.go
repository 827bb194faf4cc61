package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/quantfold/sigflow/internal/broker/bybit"
	"github.com/quantfold/sigflow/internal/config"
	"github.com/quantfold/sigflow/internal/executor"
	"github.com/quantfold/sigflow/internal/logger"
	"github.com/quantfold/sigflow/internal/monitoring"
	"github.com/quantfold/sigflow/internal/pipeline"
	"github.com/quantfold/sigflow/internal/portfolio"
	"github.com/quantfold/sigflow/internal/reporting"
	"github.com/quantfold/sigflow/internal/risk"
	"github.com/quantfold/sigflow/pkg/types"
)

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file (e.g., config.yaml)")
		envFile    = flag.String("env", ".env", "Environment file path (default: .env)")
		demo       = flag.Bool("demo", true, "Use demo trading environment (default: true)")
	)
	flag.Parse()

	// Load environment variables from .env file
	if err := loadEnvFile(*envFile); err != nil {
		log.Printf("Warning: Could not load .env file (%v), checking environment variables...", err)
	}

	fmt.Println("🚀 Signal Pipeline Starting...")

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Mode = "live"
	if err := ensureAPICredentials(cfg); err != nil {
		log.Fatalf("%v", err)
	}

	// Assemble the pipeline.
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

	gateway := bybit.New(bybit.Config{
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		Testnet:   cfg.Exchange.Testnet,
		Demo:      *demo,
	})
	fmt.Printf("🔧 Gateway environment: %s\n", gateway.Environment())

	engine, err := executor.NewLiveEngine(gateway, executor.LiveConfig{
		Symbol:       cfg.Executor.Symbol,
		AccountName:  cfg.Exchange.AccountName,
		OrderTimeout: cfg.Executor.OrderTimeout,
		PollInterval: cfg.Executor.PollInterval,
	})
	if err != nil {
		log.Fatalf("Failed to build executor: %v", err)
	}

	sessionLog, err := logger.NewLogger("live", cfg.Executor.Symbol)
	if err != nil {
		log.Fatalf("Failed to open session log: %v", err)
	}
	defer sessionLog.Close()

	health := monitoring.NewHealthChecker()

	pipe, err := pipeline.New(pipeline.Options{
		Aggregator:    agg,
		RiskGate:      gate,
		Engine:        engine,
		SessionLog:    sessionLog,
		Health:        health,
		FlattenOnTrip: true,
	})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	if err := engine.Start(); err != nil {
		log.Fatalf("Executor startup failed: %v", err)
	}

	reporting.PrintStartupInfo("live", cfg.Executor.Symbol, cfg.Portfolio.Mode, cfg.Portfolio.DefaultSize, limits)
	sessionLog.Info("Pipeline started: symbol=%s, resolution=%s", cfg.Executor.Symbol, cfg.Portfolio.Mode)

	// Monitoring endpoints.
	go serveMetrics(cfg.Monitoring.PrometheusPort)
	go serveHealth(cfg.Monitoring.HealthPort, health)

	// Signal intake.
	go serveIntake(cfg.Intake.ListenAddr, pipe)

	// Drain loop plus periodic status.
	stopDrain := make(chan struct{})
	go func() {
		drainTicker := time.NewTicker(time.Second)
		statusTicker := time.NewTicker(time.Minute)
		defer drainTicker.Stop()
		defer statusTicker.Stop()
		for {
			select {
			case <-stopDrain:
				return
			case <-drainTicker.C:
				pipe.DrainResults()
			case <-statusTicker.C:
				status := pipe.Status()
				reporting.PrintPortfolioStatus(status.Portfolio, status.Risk)
				sessionLog.LogPortfolioStatus(
					status.Portfolio.OpenPositions,
					status.Portfolio.UnrealizedPnL,
					status.Portfolio.RealizedPnL,
					status.Risk.DailyPnL,
					status.Risk.CircuitBreakerTripped,
				)
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	fmt.Println("\n🛑 Shutdown signal received...")

	close(stopDrain)
	engine.Stop()
	pipe.DrainResults()

	status := pipe.Status()
	reporting.PrintSessionSummary(pipe.History(), status.Portfolio)
	fmt.Println("✅ Pipeline stopped successfully")
}

// serveIntake exposes the HTTP surface scanners push signal batches to.
func serveIntake(addr string, pipe *pipeline.Pipeline) {
	mux := http.NewServeMux()

	mux.HandleFunc("/signals", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var signals []types.Signal
		if err := json.NewDecoder(r.Body).Decode(&signals); err != nil {
			http.Error(w, fmt.Sprintf("invalid signal batch: %v", err), http.StatusBadRequest)
			return
		}
		for _, sig := range signals {
			if !sig.SignalType.Valid() {
				http.Error(w, fmt.Sprintf("invalid signal type %q", sig.SignalType), http.StatusBadRequest)
				return
			}
		}
		submitted := pipe.RunCycle(signals)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"received": len(signals), "submitted": submitted})
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(pipe.Status())
	})

	mux.HandleFunc("/kill", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		on := r.URL.Query().Get("off") == ""
		pipe.Kill(on)
		fmt.Fprintf(w, "kill switch: %v\n", on)
	})

	mux.HandleFunc("/flatten", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		pipe.FlattenAll()
		fmt.Fprintln(w, "flatten submitted")
	})

	mux.HandleFunc("/reset-breaker", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		pipe.ResetCircuitBreaker()
		fmt.Fprintln(w, "circuit breaker reset")
	})

	log.Printf("Signal intake listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("Signal intake server stopped: %v", err)
	}
}

func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.NewMetricsHandler())
	addr := fmt.Sprintf(":%d", port)
	log.Printf("Metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("Metrics server stopped: %v", err)
	}
}

func serveHealth(port int, health *monitoring.HealthChecker) {
	mux := http.NewServeMux()
	mux.Handle("/health", health)
	addr := fmt.Sprintf(":%d", port)
	log.Printf("Health listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("Health server stopped: %v", err)
	}
}

// loadEnvFile loads environment variables from a file
func loadEnvFile(envFile string) error {
	if _, err := os.Stat(envFile); err == nil {
		return godotenv.Load(envFile)
	}
	return fmt.Errorf("env file %s not found", envFile)
}

// ensureAPICredentials fills credentials from the environment when the
// config file omits them
func ensureAPICredentials(cfg *config.Config) error {
	if cfg.Exchange.APIKey == "" {
		cfg.Exchange.APIKey = os.Getenv("BYBIT_API_KEY")
	}
	if cfg.Exchange.APISecret == "" {
		cfg.Exchange.APISecret = os.Getenv("BYBIT_API_SECRET")
	}
	if cfg.Exchange.APIKey == "" || cfg.Exchange.APISecret == "" {
		return fmt.Errorf("missing API credentials: set BYBIT_API_KEY and BYBIT_API_SECRET")
	}
	return nil
}
