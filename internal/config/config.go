package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"eoddump/internal/timeout"
)

type Retry struct {
	MaxAttempts   int `yaml:"max_attempts"`
	BackoffMillis int `yaml:"backoff_ms"`
}

type Tushare struct {
	Token                string `yaml:"token"`
	Endpoint             string `yaml:"endpoint"`
	MaxRequestsPerMinute int    `yaml:"max_requests_per_minute"`
	Burst                int    `yaml:"burst"`
	TimeoutSec           int    `yaml:"timeout_sec"`
}

type Eastmoney struct {
	Enabled        bool   `yaml:"enabled"`
	Endpoint       string `yaml:"endpoint"`
	MaxConcurrency int    `yaml:"max_concurrency"`
	TimeoutSec     int    `yaml:"timeout_sec"`
}

type Yahoo struct {
	Enabled    bool `yaml:"enabled"`
	TimeoutSec int  `yaml:"timeout_sec"`
}

type CSIndex struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
	TimeoutSec  int    `yaml:"timeout_sec"`
}

type Output struct {
	Dir string `yaml:"dir"`
}

type Database struct {
	URL       string `yaml:"url"`
	Table     string `yaml:"table"`
	Threshold int    `yaml:"threshold"`
	Since     string `yaml:"since"`
}

type Stock struct {
	SkipExists bool `yaml:"skip_exists"`
}

type Index struct {
	Codes        []string `yaml:"codes"`
	WindowRows   int      `yaml:"window_rows"`
	LookbackDays int      `yaml:"lookback_days"`
	SkipExists   bool     `yaml:"skip_exists"`
}

type Weight struct {
	Codes             []string `yaml:"codes"`
	WindowRows        int      `yaml:"window_rows"`
	MinIntervalMillis int      `yaml:"min_interval_ms"`
	SkipExists        bool     `yaml:"skip_exists"`
}

type Config struct {
	TimeoutSec  int       `yaml:"timeout_sec"`
	LogLevel    string    `yaml:"log_level"`
	MetricsAddr string    `yaml:"metrics_addr"`
	Retry       Retry     `yaml:"retry"`
	Tushare     Tushare   `yaml:"tushare"`
	Eastmoney   Eastmoney `yaml:"eastmoney"`
	Yahoo       Yahoo     `yaml:"yahoo"`
	CSIndex     CSIndex   `yaml:"csindex"`
	Output      Output    `yaml:"output"`
	Database    Database  `yaml:"database"`
	Stock       Stock     `yaml:"stock"`
	Index       Index     `yaml:"index"`
	Weight      Weight    `yaml:"weight"`
}

func Default() Config {
	return Config{
		TimeoutSec: timeout.DefaultSeconds,
		LogLevel:   "info",
		Retry:      Retry{MaxAttempts: 3, BackoffMillis: 1000},
		Tushare: Tushare{
			Endpoint:             "http://api.tushare.pro",
			MaxRequestsPerMinute: 200,
			Burst:                1,
		},
		Eastmoney: Eastmoney{
			Enabled:        true,
			Endpoint:       "https://push2his.eastmoney.com/api/qt/stock/kline/get",
			MaxConcurrency: 4,
		},
		Yahoo: Yahoo{Enabled: true},
		CSIndex: CSIndex{
			Enabled:     true,
			Endpoint:    "https://www.csindex.com.cn/csindex-home/index/weight/top10/",
			CacheTTLSec: 3600,
		},
		Output: Output{Dir: "data"},
		Database: Database{
			Table:     "ts_a_stock_eod_price",
			Threshold: 1000,
			Since:     "20230501",
		},
		Stock: Stock{SkipExists: true},
		Index: Index{
			Codes:        []string{"000300.SH", "000905.SH", "000852.SH"},
			WindowRows:   4000,
			LookbackDays: 14,
		},
		Weight: Weight{
			Codes:             []string{"000300.SH", "000905.SH"},
			WindowRows:        10,
			MinIntervalMillis: 500,
		},
	}
}

// Load reads YAML config from path. JSON files parse as well. If path is empty
// it tries config.yaml; a missing file yields defaults. A .env file in the
// working directory is loaded best-effort, then environment variables
// override select fields.
func Load(path string) (Config, error) {
	cfg := Default()
	_ = godotenv.Load()

	explicit := path != ""
	if !explicit {
		path = "config.yaml"
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings no run can work with.
func (c Config) Validate() error {
	var errs []error
	if c.TimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("timeout_sec must be positive, got %d", c.TimeoutSec))
	}
	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.BackoffMillis < 0 {
		errs = append(errs, fmt.Errorf("retry.backoff_ms must not be negative, got %d", c.Retry.BackoffMillis))
	}
	if c.Index.WindowRows <= 0 {
		errs = append(errs, fmt.Errorf("index.window_rows must be positive, got %d", c.Index.WindowRows))
	}
	if c.Weight.WindowRows <= 0 {
		errs = append(errs, fmt.Errorf("weight.window_rows must be positive, got %d", c.Weight.WindowRows))
	}
	for name, sec := range map[string]int{
		"tushare.timeout_sec":   c.Tushare.TimeoutSec,
		"eastmoney.timeout_sec": c.Eastmoney.TimeoutSec,
		"yahoo.timeout_sec":     c.Yahoo.TimeoutSec,
		"csindex.timeout_sec":   c.CSIndex.TimeoutSec,
	} {
		if sec < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", name, sec))
		}
	}
	return errors.Join(errs...)
}

// Timeout is the process-wide provider call deadline.
func (c Config) Timeout() time.Duration { return time.Duration(c.TimeoutSec) * time.Second }

// Backoff is the pause between primary retries.
func (c Config) Backoff() time.Duration { return time.Duration(c.Retry.BackoffMillis) * time.Millisecond }

func applyEnv(cfg *Config) {
	envInt("TS_TIMEOUT_SEC", 1, &cfg.TimeoutSec)
	if v := os.Getenv("TUSHARE"); v != "" {
		cfg.Tushare.Token = v
	}
	if v := os.Getenv("TUSHARE_ENDPOINT"); v != "" {
		cfg.Tushare.Endpoint = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	envBool("EASTMONEY_ENABLED", &cfg.Eastmoney.Enabled)
	envBool("YAHOO_ENABLED", &cfg.Yahoo.Enabled)
	envBool("CSINDEX_ENABLED", &cfg.CSIndex.Enabled)
	if v := os.Getenv("INDEX_CODES"); v != "" {
		cfg.Index.Codes = splitCSV(v)
	}
	if v := os.Getenv("WEIGHT_CODES"); v != "" {
		cfg.Weight.Codes = splitCSV(v)
	}
}

// envInt sets *dst from name when it parses to at least min.
func envInt(name string, min int, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if x, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && x >= min {
		*dst = x
	}
}

func envBool(name string, dst *bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "y":
		*dst = true
	case "0", "false", "no", "n":
		*dst = false
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
