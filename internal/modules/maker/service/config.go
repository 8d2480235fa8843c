package service

import (
	"fmt"
	"time"

	"futures_bot/internal/modules/config"
)

// Config: неизменяемые настройки движка, собираются один раз при старте.
type Config struct {
	PriceOffsetBps float64
	MaxWait        time.Duration
	MaxAdversePct  float64
	MaxRetries     int
	PostOnly       bool
	PollInterval   time.Duration
	FallbackToIOC  bool
	ConfirmCancel  bool
	PricePrecision int32
}

func DefaultConfig() Config {
	return Config{
		PriceOffsetBps: 1.0,
		MaxWait:        30 * time.Second,
		MaxAdversePct:  0.05,
		MaxRetries:     2,
		PostOnly:       true,
		PollInterval:   500 * time.Millisecond,
		FallbackToIOC:  true,
		ConfirmCancel:  true,
		PricePrecision: 2,
	}
}

func NewConfig(cfg *config.Config) (Config, error) {
	c := Config{
		PriceOffsetBps: cfg.Maker.PriceOffsetBps,
		MaxWait:        cfg.Maker.MaxWait,
		MaxAdversePct:  cfg.Maker.MaxAdversePct,
		MaxRetries:     cfg.Maker.MaxRetries,
		PostOnly:       cfg.Maker.PostOnly,
		PollInterval:   cfg.Maker.PollInterval,
		FallbackToIOC:  cfg.Maker.FallbackToIOC,
		ConfirmCancel:  cfg.Maker.ConfirmCancel,
		PricePrecision: cfg.Maker.PricePrecision,
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.PriceOffsetBps < 0:
		return fmt.Errorf("maker: price_offset_bps must be >= 0, got %v", c.PriceOffsetBps)
	case c.MaxWait <= 0:
		return fmt.Errorf("maker: max_wait must be > 0")
	case c.PollInterval <= 0:
		return fmt.Errorf("maker: poll_interval must be > 0")
	case c.MaxAdversePct <= 0:
		return fmt.Errorf("maker: max_adverse_pct must be > 0")
	case c.MaxRetries < 0:
		return fmt.Errorf("maker: max_retries must be >= 0")
	case c.PricePrecision < 0:
		return fmt.Errorf("maker: price_precision must be >= 0")
	}
	return nil
}
