package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EngineConfig holds the tunable thresholds of the reconciliation and
// analytics engine. Everything here is operator-supplied; none of it is
// baked into the matching or analytics code.
type EngineConfig struct {
	// FeeRates maps a resale marketplace (the observation source name) to
	// its seller fee rate, e.g. {"stockx": 0.12}.
	FeeRates map[string]float64 `mapstructure:"feeRates"`
	// DefaultFeeRate applies when a marketplace has no explicit entry.
	DefaultFeeRate float64 `mapstructure:"defaultFeeRate"`

	DeadStockThresholdDays int   `mapstructure:"deadStockThresholdDays"`
	MinProfitMinorUnits    int64 `mapstructure:"minProfitMinorUnits"`
	OpportunityLimit       int   `mapstructure:"opportunityLimit"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		FeeRates:               map[string]float64{},
		DefaultFeeRate:         0.12,
		DeadStockThresholdDays: 90,
		MinProfitMinorUnits:    2_000,
		OpportunityLimit:       50,
	}
}

// FeeRateFor returns the fee rate for a marketplace, falling back to the default.
func (c EngineConfig) FeeRateFor(marketplace string) float64 {
	key := strings.ToLower(strings.TrimSpace(marketplace))
	if rate, ok := c.FeeRates[key]; ok {
		return rate
	}
	return c.DefaultFeeRate
}

type EngineConfigHolder struct {
	current atomic.Value // holds EngineConfig
}

func NewEngineConfigHolder() (*EngineConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("engine")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/soleledger/config") // Volume-mounted config
	v.AddConfigPath("/etc/soleledger")            // System config
	v.AddConfigPath(".")                          // Current directory (dev mode)

	v.SetEnvPrefix("SOLELEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultEngineConfig()
		v.SetDefault("engine.feeRates", defaults.FeeRates)
		v.SetDefault("engine.defaultFeeRate", defaults.DefaultFeeRate)
		v.SetDefault("engine.deadStockThresholdDays", defaults.DeadStockThresholdDays)
		v.SetDefault("engine.minProfitMinorUnits", defaults.MinProfitMinorUnits)
		v.SetDefault("engine.opportunityLimit", defaults.OpportunityLimit)
	}

	var cfg EngineConfig
	if err := v.UnmarshalKey("engine", &cfg); err != nil {
		return nil, err
	}
	if err := validateEngineConfig(cfg); err != nil {
		return nil, err
	}

	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated EngineConfig
		if err := v.UnmarshalKey("engine", &updated); err != nil {
			log.Printf("[engine-config] reload failed: %v", err)
			return
		}
		if err := validateEngineConfig(updated); err != nil {
			log.Printf("[engine-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[engine-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticEngineConfigHolder returns a holder pinned to cfg. Tests use it to
// avoid touching the filesystem.
func NewStaticEngineConfigHolder(cfg EngineConfig) *EngineConfigHolder {
	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *EngineConfigHolder) Get() EngineConfig {
	return h.current.Load().(EngineConfig)
}

func validateEngineConfig(cfg EngineConfig) error {
	if cfg.DefaultFeeRate < 0 || cfg.DefaultFeeRate >= 1 {
		return errors.New("engine.defaultFeeRate must be in [0, 1)")
	}
	for marketplace, rate := range cfg.FeeRates {
		if rate < 0 || rate >= 1 {
			return errors.New("engine.feeRates." + marketplace + " must be in [0, 1)")
		}
	}
	if cfg.DeadStockThresholdDays <= 0 {
		return errors.New("engine.deadStockThresholdDays must be positive")
	}
	if cfg.MinProfitMinorUnits < 0 {
		return errors.New("engine.minProfitMinorUnits cannot be negative")
	}
	return nil
}
