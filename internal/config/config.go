package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Patterns   PatternsConfig   `yaml:"patterns"`
	Insights   InsightsConfig   `yaml:"insights"`
	Correlator CorrelatorConfig `yaml:"correlator"`
}

type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`
	GRPCPort int `yaml:"grpc_port"`
}

type ClickHouseConfig struct {
	Addr         string `yaml:"addr"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string          `yaml:"brokers"`
	Topics  map[string]string `yaml:"topics"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type PatternsConfig struct {
	Concurrency int `yaml:"concurrency"`
	PageSize    int `yaml:"page_size"`
	MinReports  int `yaml:"min_reports"`
}

type InsightsConfig struct {
	Window       time.Duration `yaml:"window"`
	Tolerance    float64       `yaml:"tolerance"`
	LookbackRows int           `yaml:"lookback_rows"`
	StoredRows   int           `yaml:"stored_rows"`
	Concurrency  int           `yaml:"concurrency"`
	MaxProjects  int           `yaml:"max_projects"`

	SlowPage      SlowPageConfig      `yaml:"slow_page"`
	ScrollDropoff ScrollDropoffConfig `yaml:"scroll_dropoff"`

	MinOccurrences map[string]int    `yaml:"min_occurrences"`
	Severity       map[string]string `yaml:"severity"`
	CriticalAt     int               `yaml:"critical_at"`
}

type SlowPageConfig struct {
	LCPThresholdMs float64 `yaml:"lcp_threshold_ms"`
}

type ScrollDropoffConfig struct {
	DepthThresholdPct float64 `yaml:"depth_threshold_pct"`
}

type CorrelatorConfig struct {
	Lookback  time.Duration `yaml:"lookback"`
	PageSize  int           `yaml:"page_size"`
	ScanLimit int           `yaml:"scan_limit"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// SetDefaults fills every zero value with its default
func (cfg *Config) SetDefaults() {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8090
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}
	if cfg.ClickHouse.MaxOpenConns == 0 {
		cfg.ClickHouse.MaxOpenConns = 10
	}
	if cfg.ClickHouse.MaxIdleConns == 0 {
		cfg.ClickHouse.MaxIdleConns = 5
	}
	if cfg.Postgres.MaxConns == 0 {
		cfg.Postgres.MaxConns = 10
	}

	// Rate limit defaults
	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = 5
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Minute
	}

	// Pattern defaults
	if cfg.Patterns.Concurrency == 0 {
		cfg.Patterns.Concurrency = 8
	}
	if cfg.Patterns.PageSize == 0 {
		cfg.Patterns.PageSize = 1000
	}
	if cfg.Patterns.MinReports == 0 {
		cfg.Patterns.MinReports = 2
	}

	// Insight defaults
	if cfg.Insights.Window == 0 {
		cfg.Insights.Window = 7 * 24 * time.Hour
	}
	if cfg.Insights.Tolerance == 0 {
		cfg.Insights.Tolerance = 0.2
	}
	if cfg.Insights.LookbackRows == 0 {
		cfg.Insights.LookbackRows = 100000
	}
	if cfg.Insights.StoredRows == 0 {
		cfg.Insights.StoredRows = 10000
	}
	if cfg.Insights.Concurrency == 0 {
		cfg.Insights.Concurrency = 8
	}
	if cfg.Insights.MaxProjects == 0 {
		cfg.Insights.MaxProjects = 1000
	}
	if cfg.Insights.SlowPage.LCPThresholdMs == 0 {
		cfg.Insights.SlowPage.LCPThresholdMs = 2500
	}
	if cfg.Insights.ScrollDropoff.DepthThresholdPct == 0 {
		cfg.Insights.ScrollDropoff.DepthThresholdPct = 30
	}
	if cfg.Insights.MinOccurrences == nil {
		cfg.Insights.MinOccurrences = map[string]int{}
	}
	for k, v := range map[string]int{
		"rage_click":       3,
		"scroll_dropoff":   3,
		"form_abandonment": 3,
		"slow_page":        3,
		"error_spike":      10,
	} {
		if _, ok := cfg.Insights.MinOccurrences[k]; !ok {
			cfg.Insights.MinOccurrences[k] = v
		}
	}
	if cfg.Insights.Severity == nil {
		cfg.Insights.Severity = map[string]string{}
	}
	for k, v := range map[string]string{
		"rage_click":       "high",
		"scroll_dropoff":   "low",
		"form_abandonment": "medium",
		"slow_page":        "medium",
		"error_spike":      "high",
	} {
		if _, ok := cfg.Insights.Severity[k]; !ok {
			cfg.Insights.Severity[k] = v
		}
	}
	if cfg.Insights.CriticalAt == 0 {
		cfg.Insights.CriticalAt = 100
	}

	// Correlator defaults
	if cfg.Correlator.Lookback == 0 {
		cfg.Correlator.Lookback = 7 * 24 * time.Hour
	}
	if cfg.Correlator.PageSize == 0 {
		cfg.Correlator.PageSize = 20
	}
	if cfg.Correlator.ScanLimit == 0 {
		cfg.Correlator.ScanLimit = 5000
	}
}
