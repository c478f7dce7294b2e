// Package config defines all configuration for the trading engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via BITHUMB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Symbols   []string        `mapstructure:"symbols"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Binance   BinanceConfig   `mapstructure:"binance"`
	Micro     MicroConfig     `mapstructure:"micro"`
	Vol       VolConfig       `mapstructure:"vol"`
	Regime    RegimeConfig    `mapstructure:"regime"`
	Ensemble  EnsembleConfig  `mapstructure:"ensemble"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ExchangeConfig holds Bithumb endpoints and the private-API key pair.
// If ApiKey/SecretKey are empty the bot runs public-only: private calls
// return status "9999" without issuing a request.
type ExchangeConfig struct {
	RestURL   string `mapstructure:"rest_url"`
	WSURL     string `mapstructure:"ws_url"`
	ApiKey    string `mapstructure:"api_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// BinanceConfig holds the perpetual-futures endpoint used for funding rates.
type BinanceConfig struct {
	RestURL      string        `mapstructure:"rest_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// MicroConfig tunes the microstructure analyzer (Cont et al. 2010; Easley et al. 2012).
//
//   - OBIDepthLevels: book levels summed for the imbalance (≤ depth-10 feed).
//   - OBILookback:    window for the OBI moving average.
//   - OBIThreshold:   |OBI| at which the strong buy/sell flags arm.
//   - VPINBucketSize: trades per volume bucket.
//   - VPINNumBuckets: closed buckets required before VPIN is defined.
//   - VPINDanger:     VPIN level that blocks entries.
type MicroConfig struct {
	OBIDepthLevels int     `mapstructure:"obi_depth_levels"`
	OBILookback    int     `mapstructure:"obi_lookback"`
	OBIThreshold   float64 `mapstructure:"obi_threshold"`
	VPINBucketSize int     `mapstructure:"vpin_bucket_size"`
	VPINNumBuckets int     `mapstructure:"vpin_num_buckets"`
	VPINDanger     float64 `mapstructure:"vpin_danger_threshold"`
}

// VolConfig tunes the volatility model.
type VolConfig struct {
	RVWindow        int           `mapstructure:"rv_window"`
	GarchLookback   int           `mapstructure:"garch_lookback"`
	RetrainInterval time.Duration `mapstructure:"retrain_interval"`
}

// RegimeConfig tunes the HMM regime detector.
type RegimeConfig struct {
	States          int           `mapstructure:"states"`
	LookbackHours   int           `mapstructure:"lookback_hours"`
	RetrainInterval time.Duration `mapstructure:"retrain_interval"`
}

// EnsembleConfig holds the fusion weights and momentum parameters.
// Weights must sum to 1; when sentiment or funding input is absent (exactly
// zero) the remaining weights are rescaled at evaluation time.
type EnsembleConfig struct {
	WeightOBI        float64   `mapstructure:"weight_obi"`
	WeightVPIN       float64   `mapstructure:"weight_vpin"`
	WeightMomentum   float64   `mapstructure:"weight_momentum"`
	WeightRegime     float64   `mapstructure:"weight_regime"`
	WeightSentiment  float64   `mapstructure:"weight_sentiment"`
	WeightFunding    float64   `mapstructure:"weight_funding"`
	WeightVolatility float64   `mapstructure:"weight_volatility"`
	MomentumWindows  []int     `mapstructure:"momentum_windows"` // minutes
	MomentumWeights  []float64 `mapstructure:"momentum_weights"`
}

// RiskConfig sets the capital limits and the multi-layer risk discipline.
//
//   - MaxTotalCapital:        total KRW the bot may deploy (sizing denominator).
//   - MinCashReserveRatio:    floor on the cash kept out of the market.
//   - MaxSinglePositionRatio: cap on one position as a fraction of capital.
//   - MaxConcurrentPositions: cap on simultaneously held symbols.
//   - DailyCVaRLimit:         daily P&L fraction below which entries stop.
//   - KellyFraction:          Fractional Kelly multiplier (and the fallback value).
//   - KellyMinTrades:         closed trades required before Kelly is estimated.
//   - MaxConsecutiveLosses:   circuit-breaker trip count.
//   - Cooldown:               pause after the circuit breaker trips.
//   - StopLossMultiplier:     k in stop = entry × (1 − k·RV).
//   - TrailingActivationPct:  unrealized gain that arms the trailing stop.
//   - TrailingOffsetMult:     trailing offset = mult × RV × regime multiplier.
type RiskConfig struct {
	MaxTotalCapital        float64       `mapstructure:"max_total_capital"`
	MinCashReserveRatio    float64       `mapstructure:"min_cash_reserve_ratio"`
	MaxSinglePositionRatio float64       `mapstructure:"max_single_position_ratio"`
	MaxConcurrentPositions int           `mapstructure:"max_concurrent_positions"`
	DailyCVaRLimit         float64       `mapstructure:"daily_cvar_limit"`
	KellyFraction          float64       `mapstructure:"kelly_fraction"`
	KellyMinTrades         int           `mapstructure:"kelly_min_trades"`
	MaxConsecutiveLosses   int           `mapstructure:"max_consecutive_losses"`
	Cooldown               time.Duration `mapstructure:"cooldown"`
	StopLossMultiplier     float64       `mapstructure:"stop_loss_multiplier"`
	TrailingActivationPct  float64       `mapstructure:"trailing_activation_pct"`
	TrailingOffsetMult     float64       `mapstructure:"trailing_offset_multiplier"`
}

// NotifyConfig holds Telegram credentials. Empty token disables notifications.
type NotifyConfig struct {
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID string `mapstructure:"telegram_chat_id"`
}

// DashboardConfig controls the status/webhook HTTP server.
type DashboardConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Port          int    `mapstructure:"port"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: BITHUMB_API_KEY, BITHUMB_SECRET_KEY,
// BITHUMB_TELEGRAM_TOKEN, BITHUMB_WEBHOOK_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BITHUMB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("BITHUMB_API_KEY"); key != "" {
		cfg.Exchange.ApiKey = key
	}
	if secret := os.Getenv("BITHUMB_SECRET_KEY"); secret != "" {
		cfg.Exchange.SecretKey = secret
	}
	if tok := os.Getenv("BITHUMB_TELEGRAM_TOKEN"); tok != "" {
		cfg.Notify.TelegramToken = tok
	}
	if chat := os.Getenv("BITHUMB_TELEGRAM_CHAT_ID"); chat != "" {
		cfg.Notify.TelegramChatID = chat
	}
	if sec := os.Getenv("BITHUMB_WEBHOOK_SECRET"); sec != "" {
		cfg.Dashboard.WebhookSecret = sec
	}
	if os.Getenv("BITHUMB_DRY_RUN") == "true" || os.Getenv("BITHUMB_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("symbols", []string{"BTC", "ETH", "XRP", "SOL", "DOGE"})
	v.SetDefault("exchange.rest_url", "https://api.bithumb.com")
	v.SetDefault("exchange.ws_url", "wss://pubwss.bithumb.com/pub/ws")
	v.SetDefault("binance.rest_url", "https://fapi.binance.com")
	v.SetDefault("binance.poll_interval", 5*time.Minute)

	v.SetDefault("micro.obi_depth_levels", 10)
	v.SetDefault("micro.obi_lookback", 20)
	v.SetDefault("micro.obi_threshold", 0.60)
	v.SetDefault("micro.vpin_bucket_size", 50)
	v.SetDefault("micro.vpin_num_buckets", 50)
	v.SetDefault("micro.vpin_danger_threshold", 0.80)

	v.SetDefault("vol.rv_window", 60)
	v.SetDefault("vol.garch_lookback", 500)
	v.SetDefault("vol.retrain_interval", 30*time.Minute)

	v.SetDefault("regime.states", 3)
	v.SetDefault("regime.lookback_hours", 168)
	v.SetDefault("regime.retrain_interval", time.Hour)

	v.SetDefault("ensemble.weight_obi", 0.30)
	v.SetDefault("ensemble.weight_vpin", 0.15)
	v.SetDefault("ensemble.weight_momentum", 0.15)
	v.SetDefault("ensemble.weight_regime", 0.15)
	v.SetDefault("ensemble.weight_sentiment", 0.10)
	v.SetDefault("ensemble.weight_funding", 0.10)
	v.SetDefault("ensemble.weight_volatility", 0.05)
	v.SetDefault("ensemble.momentum_windows", []int{60, 240, 1440, 10080})
	v.SetDefault("ensemble.momentum_weights", []float64{0.4, 0.3, 0.2, 0.1})

	v.SetDefault("risk.max_total_capital", 50_000_000)
	v.SetDefault("risk.min_cash_reserve_ratio", 0.20)
	v.SetDefault("risk.max_single_position_ratio", 0.20)
	v.SetDefault("risk.max_concurrent_positions", 3)
	v.SetDefault("risk.daily_cvar_limit", -0.03)
	v.SetDefault("risk.kelly_fraction", 0.25)
	v.SetDefault("risk.kelly_min_trades", 20)
	v.SetDefault("risk.max_consecutive_losses", 3)
	v.SetDefault("risk.cooldown", 30*time.Minute)
	v.SetDefault("risk.stop_loss_multiplier", 2.0)
	v.SetDefault("risk.trailing_activation_pct", 0.015)
	v.SetDefault("risk.trailing_offset_multiplier", 1.5)

	v.SetDefault("dashboard.enabled", true)
	v.SetDefault("dashboard.port", 8000)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols must not be empty")
	}
	if c.Exchange.RestURL == "" {
		return fmt.Errorf("exchange.rest_url is required")
	}
	if c.Exchange.WSURL == "" {
		return fmt.Errorf("exchange.ws_url is required")
	}
	if c.Risk.MaxTotalCapital <= 0 {
		return fmt.Errorf("risk.max_total_capital must be > 0")
	}
	if c.Risk.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("risk.max_concurrent_positions must be > 0")
	}
	if c.Risk.MaxSinglePositionRatio <= 0 || c.Risk.MaxSinglePositionRatio > 1 {
		return fmt.Errorf("risk.max_single_position_ratio must be in (0, 1]")
	}
	if c.Risk.KellyFraction <= 0 || c.Risk.KellyFraction > 1 {
		return fmt.Errorf("risk.kelly_fraction must be in (0, 1]")
	}
	if c.Micro.OBIDepthLevels <= 0 || c.Micro.OBIDepthLevels > 10 {
		return fmt.Errorf("micro.obi_depth_levels must be in [1, 10]")
	}
	if len(c.Ensemble.MomentumWindows) != len(c.Ensemble.MomentumWeights) {
		return fmt.Errorf("ensemble momentum windows and weights must have equal length")
	}
	sum := c.Ensemble.WeightOBI + c.Ensemble.WeightVPIN + c.Ensemble.WeightMomentum +
		c.Ensemble.WeightRegime + c.Ensemble.WeightSentiment + c.Ensemble.WeightFunding +
		c.Ensemble.WeightVolatility
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("ensemble weights must sum to 1, got %.4f", sum)
	}
	if c.Dashboard.Enabled && c.Dashboard.Port <= 0 {
		return fmt.Errorf("dashboard.port must be > 0 when dashboard is enabled")
	}
	return nil
}

// Now is the engine-wide clock: all timestamps are UTC.
func Now() time.Time { return time.Now().UTC() }
