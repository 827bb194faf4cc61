// Package config loads and validates the pipeline configuration from a
// config file plus SIGFLOW_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full pipeline configuration.
type Config struct {
	Environment string `mapstructure:"environment"`
	Mode        string `mapstructure:"mode"` // "live" or "paper"

	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Portfolio  PortfolioConfig  `mapstructure:"portfolio"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Intake     IntakeConfig     `mapstructure:"intake"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ExchangeConfig holds gateway credentials and selection.
type ExchangeConfig struct {
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
	Testnet     bool   `mapstructure:"testnet"`
	AccountName string `mapstructure:"account_name"`
}

// PortfolioConfig drives the signal aggregator. The aggregator caps
// are an early drop at resolution time, separate from the risk gate's
// caps; 0 leaves a cap unlimited.
type PortfolioConfig struct {
	Mode                   string         `mapstructure:"mode"` // additive, priority, veto
	StrategyPriorities     map[string]int `mapstructure:"strategy_priorities"`
	DefaultSize            int            `mapstructure:"default_size"`
	MaxPositionPerStrategy int            `mapstructure:"max_position_per_strategy"`
	MaxPositionPerSymbol   int            `mapstructure:"max_position_per_symbol"`
	MaxPortfolioPosition   int            `mapstructure:"max_portfolio_position"`
}

// RiskConfig holds the risk gate thresholds. Caps of 0 are unlimited;
// MaxDailyLoss is a negative floor, 0 disables it.
type RiskConfig struct {
	MaxPositionPerStrategy int     `mapstructure:"max_position_per_strategy"`
	MaxPositionPerSymbol   int     `mapstructure:"max_position_per_symbol"`
	MaxPortfolioPosition   int     `mapstructure:"max_portfolio_position"`
	MaxDailyLoss           float64 `mapstructure:"max_daily_loss"`
}

// ExecutorConfig tunes both execution engines.
type ExecutorConfig struct {
	Symbol           string        `mapstructure:"symbol"`
	OrderTimeout     time.Duration `mapstructure:"order_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	FillDelay        time.Duration `mapstructure:"fill_delay"`
	MaxSlippageTicks int           `mapstructure:"max_slippage_ticks"`
	TickSize         float64       `mapstructure:"tick_size"`
}

// IntakeConfig configures the HTTP signal intake.
type IntakeConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// MonitoringConfig configures the metrics and health endpoints.
type MonitoringConfig struct {
	PrometheusPort int `mapstructure:"prometheus_port"`
	HealthPort     int `mapstructure:"health_port"`
}

// Load reads the config file (explicit path, or "config.{yaml,json}" in
// the working directory and ./configs) and applies env overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("SIGFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing file is acceptable when env vars carry the config.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("mode", "paper")
	v.SetDefault("portfolio.mode", "additive")
	v.SetDefault("portfolio.default_size", 1)
	v.SetDefault("executor.order_timeout", 30*time.Second)
	v.SetDefault("executor.poll_interval", 500*time.Millisecond)
	v.SetDefault("executor.fill_delay", 100*time.Millisecond)
	v.SetDefault("executor.tick_size", 0.25)
	v.SetDefault("intake.listen_addr", ":8090")
	v.SetDefault("monitoring.prometheus_port", 8080)
	v.SetDefault("monitoring.health_port", 8081)
}

// Validate checks cross-field constraints before the pipeline starts.
func (c *Config) Validate() error {
	switch c.Mode {
	case "live", "paper":
	default:
		return fmt.Errorf("mode must be \"live\" or \"paper\", got %q", c.Mode)
	}

	switch c.Portfolio.Mode {
	case "additive", "priority", "veto":
	default:
		return fmt.Errorf("portfolio mode must be additive, priority or veto, got %q", c.Portfolio.Mode)
	}

	if c.Executor.Symbol == "" {
		return fmt.Errorf("executor symbol is required")
	}
	if c.Portfolio.DefaultSize <= 0 {
		return fmt.Errorf("portfolio default size must be positive, got %d", c.Portfolio.DefaultSize)
	}
	if c.Risk.MaxDailyLoss > 0 {
		return fmt.Errorf("max daily loss must be negative or zero, got %.2f", c.Risk.MaxDailyLoss)
	}

	if c.Mode == "live" {
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			return fmt.Errorf("live mode requires exchange api_key and api_secret")
		}
	}

	return nil
}
