package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	envPrefix         = "BOT"
)

// Config ...
type Config struct {
	DB          string `yaml:"db_dsn"`
	StoreDriver string `yaml:"store_driver"` // postgres | memory

	Service struct {
		Host       string `yaml:"host"`
		HealthAddr string `yaml:"health_addr"`
		LogLevel   string `yaml:"log_level"`
		LogJSON    bool   `yaml:"log_json"`
	} `yaml:"service"`

	Stream struct {
		URL             string        `yaml:"url"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		BackoffMin      time.Duration `yaml:"backoff_min"`
		BackoffMax      time.Duration `yaml:"backoff_max"`
		StaleAfter      time.Duration `yaml:"stale_after"`
		KlineIntervals  []string      `yaml:"kline_intervals"`
		KlineSyncPeriod time.Duration `yaml:"kline_sync_period"`
	} `yaml:"stream"`

	Risk struct {
		WatchlistRefresh time.Duration `yaml:"watchlist_refresh"`
		Workers          int           `yaml:"workers"`
		BusyPolicy       string        `yaml:"busy_policy"` // drop | queue1
		SweepInterval    time.Duration `yaml:"sweep_interval"`
	} `yaml:"risk"`

	Maker struct {
		PriceOffsetBps float64       `yaml:"price_offset_bps"`
		MaxWait        time.Duration `yaml:"max_wait"`
		MaxAdversePct  float64       `yaml:"max_adverse_pct"`
		MaxRetries     int           `yaml:"max_retries"`
		PostOnly       bool          `yaml:"post_only"`
		PollInterval   time.Duration `yaml:"poll_interval"`
		FallbackToIOC  bool          `yaml:"fallback_to_ioc"`
		ConfirmCancel  bool          `yaml:"confirm_cancel"`
		PricePrecision int32         `yaml:"price_precision"`
	} `yaml:"maker"`

	Exchange struct {
		BaseURL    string        `yaml:"base_url"`
		APIKey     string        `yaml:"api_key"`
		APISecret  string        `yaml:"api_secret"`
		RecvWindow time.Duration `yaml:"recv_window"`
		RatePerSec float64       `yaml:"rate_per_sec"`
		Timeout    time.Duration `yaml:"timeout"`
	} `yaml:"exchange"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Tracing struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"tracing"`
}

// Default: значения по умолчанию, поверх них декодится файл.
func Default() Config {
	var c Config
	c.StoreDriver = "postgres"

	c.Service.HealthAddr = ":8080"
	c.Service.LogLevel = "info"

	c.Stream.URL = "wss://fstream.binance.com/stream"
	c.Stream.ReadTimeout = 30 * time.Second
	c.Stream.BackoffMin = time.Second
	c.Stream.BackoffMax = 60 * time.Second
	c.Stream.StaleAfter = 10 * time.Second
	c.Stream.KlineIntervals = []string{"1m", "5m"}
	c.Stream.KlineSyncPeriod = 60 * time.Second

	c.Risk.WatchlistRefresh = 30 * time.Second
	c.Risk.Workers = 4
	c.Risk.BusyPolicy = "drop"
	c.Risk.SweepInterval = 5 * time.Second

	c.Maker.PriceOffsetBps = 1.0
	c.Maker.MaxWait = 30 * time.Second
	c.Maker.MaxAdversePct = 0.05
	c.Maker.MaxRetries = 2
	c.Maker.PostOnly = true
	c.Maker.PollInterval = 500 * time.Millisecond
	c.Maker.FallbackToIOC = true
	c.Maker.ConfirmCancel = true
	c.Maker.PricePrecision = 2

	c.Exchange.BaseURL = "https://fapi.binance.com"
	c.Exchange.RecvWindow = 5 * time.Second
	c.Exchange.RatePerSec = 10
	c.Exchange.Timeout = 10 * time.Second

	c.Redis.Channel = "risk_alerts"

	c.Tracing.Host = "localhost"
	c.Tracing.Port = 6831
	return c
}

func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	config := Default()

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	dir := os.Getenv(configDirENV)
	if dir == "" {
		dir = "configs"
	}

	file, err := os.Open(dir + "/" + configFileName)
	switch {
	case err == nil:
		defer func() {
			_ = file.Close()
		}()
		if err := yaml.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", configFileName, err)
		}
	case os.IsNotExist(err):
		// без файла работаем на дефолтах + env
	default:
		return nil, fmt.Errorf("open config file %s: %w", configFileName, err)
	}

	applyEnv(&config, newEnv())

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// applyEnv: BOT_DB_DSN, BOT_EXCHANGE_API_KEY, BOT_TELEGRAM_TOKEN, ...
func applyEnv(c *Config, v *viper.Viper) {
	setString(v, "db_dsn", &c.DB)
	setString(v, "store_driver", &c.StoreDriver)
	setString(v, "service.health_addr", &c.Service.HealthAddr)
	setString(v, "service.log_level", &c.Service.LogLevel)
	setString(v, "stream.url", &c.Stream.URL)
	setString(v, "risk.busy_policy", &c.Risk.BusyPolicy)
	setString(v, "exchange.base_url", &c.Exchange.BaseURL)
	setString(v, "exchange.api_key", &c.Exchange.APIKey)
	setString(v, "exchange.api_secret", &c.Exchange.APISecret)
	setString(v, "redis.addr", &c.Redis.Addr)
	setString(v, "redis.password", &c.Redis.Password)
	setString(v, "telegram.token", &c.Telegram.Token)

	if v.IsSet("telegram.chat_id") {
		c.Telegram.ChatID = v.GetInt64("telegram.chat_id")
	}
	if v.IsSet("risk.workers") {
		c.Risk.Workers = v.GetInt("risk.workers")
	}
	if v.IsSet("maker.max_retries") {
		c.Maker.MaxRetries = v.GetInt("maker.max_retries")
	}
	if v.IsSet("maker.fallback_to_ioc") {
		c.Maker.FallbackToIOC = v.GetBool("maker.fallback_to_ioc")
	}
	if v.IsSet("maker.max_wait") {
		c.Maker.MaxWait = v.GetDuration("maker.max_wait")
	}
	if v.IsSet("tracing.enabled") {
		c.Tracing.Enabled = v.GetBool("tracing.enabled")
	}

	// совместимость со старыми переменными
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" && c.DB == "" {
		c.DB = dsn
	}
	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" && c.Telegram.Token == "" {
		c.Telegram.Token = token
	}
}

func setString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DB == "" {
			return fmt.Errorf("db_dsn is required for store_driver=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store_driver %q", c.StoreDriver)
	}
	switch c.Risk.BusyPolicy {
	case "drop", "queue1":
	default:
		return fmt.Errorf("unknown risk.busy_policy %q", c.Risk.BusyPolicy)
	}
	if c.Risk.Workers <= 0 {
		return fmt.Errorf("risk.workers must be > 0")
	}
	if c.Stream.BackoffMin <= 0 || c.Stream.BackoffMax < c.Stream.BackoffMin {
		return fmt.Errorf("stream backoff: min=%s max=%s", c.Stream.BackoffMin, c.Stream.BackoffMax)
	}
	return nil
}
