package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Femas      FemasConfig      `mapstructure:"femas"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Market     MarketConfig     `mapstructure:"market"`
	API        APIConfig        `mapstructure:"api"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Vault      VaultConfig      `mapstructure:"vault"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // json or console
}

// FemasConfig contains vendor session settings
type FemasConfig struct {
	FrontAddress    string          `mapstructure:"front_address"` // trader front, tcp://host:port
	MdAddress       string          `mapstructure:"md_address"`    // market-data front
	BrokerID        string          `mapstructure:"broker_id"`
	UserID          string          `mapstructure:"user_id"`
	Password        string          `mapstructure:"password"`
	InvestorID      string          `mapstructure:"investor_id"`
	AppID           string          `mapstructure:"app_id"`
	AuthCode        string          `mapstructure:"auth_code"`
	UserProductInfo string          `mapstructure:"user_product_info"`
	FlowPath        string          `mapstructure:"flow_path"`
	Encoding        string          `mapstructure:"encoding"` // utf8 or gbk
	Simulate        bool            `mapstructure:"simulate"`
	AutoLogin       bool            `mapstructure:"auto_login"`
	Simulator       SimulatorConfig `mapstructure:"simulator"`
}

// SimulatorConfig tunes the in-process vendor simulator
type SimulatorConfig struct {
	ConnectDelay   time.Duration `mapstructure:"connect_delay"`
	ResponseDelay  time.Duration `mapstructure:"response_delay"`
	LoginFrames    int           `mapstructure:"login_frames"`
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	InitialBalance float64       `mapstructure:"initial_balance"`
	Seed           uint64        `mapstructure:"seed"`
}

// BridgeConfig contains callback relay settings
type BridgeConfig struct {
	CallbackConcurrency int           `mapstructure:"callback_concurrency"`
	CallbackTimeout     time.Duration `mapstructure:"callback_timeout"`
}

// TradingConfig contains trading service settings
type TradingConfig struct {
	OrderRate      float64       `mapstructure:"order_rate"`  // orders per second
	OrderBurst     int           `mapstructure:"order_burst"` // token bucket size
	QueryRate      float64       `mapstructure:"query_rate"`  // queries per second, vendor limit is 1
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
	Relogin        ReloginConfig `mapstructure:"relogin"`
}

// BreakerConfig contains order circuit breaker settings
type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ReloginConfig contains automatic re-login backoff settings
type ReloginConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// MarketConfig contains market data settings
type MarketConfig struct {
	Instruments     []string      `mapstructure:"instruments"` // subscribed after login
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// APIConfig contains REST API settings
type APIConfig struct {
	Host           string         `mapstructure:"host"`
	Port           int            `mapstructure:"port"`
	AllowedOrigins []string       `mapstructure:"allowed_origins"`
	Audit          bool           `mapstructure:"audit"` // record control actions, persisted when the database is enabled
	Auth           AuthConfig     `mapstructure:"auth"`
	Sessions       SessionsConfig `mapstructure:"sessions"`
}

// AuthConfig contains API key authentication settings for control routes.
// Keys live in the journal database.
type AuthConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	HeaderName   string `mapstructure:"header_name"`   // Default: "X-API-Key"
	RequireHTTPS bool   `mapstructure:"require_https"` // Require HTTPS outside localhost
}

// SessionsConfig contains front-end user session settings for /api/auth.
type SessionsConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	Users           []UserConfig  `mapstructure:"users"`
}

// UserConfig is one front-end user allowed to open a session.
type UserConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// NATSConfig contains NATS messaging settings
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Prefix  string `mapstructure:"prefix"`
}

// DatabaseConfig contains trade journal settings
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"` // overrides the individual fields
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// AlertsConfig contains operator alert settings
type AlertsConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Interval time.Duration  `mapstructure:"interval"` // minimum gap between repeats of one alert
	Burst    int            `mapstructure:"burst"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig contains Telegram alert settings
type TelegramConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	BotToken string  `mapstructure:"bot_token"`
	ChatIDs  []int64 `mapstructure:"chat_ids"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// FEMASGATE_FEMAS_PASSWORD overrides femas.password
	v.SetEnvPrefix("FEMASGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "femasgate")
	v.SetDefault("app.version", Version)
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	// Femas defaults
	v.SetDefault("femas.front_address", fmt.Sprintf("tcp://127.0.0.1:%d", FemasTraderFrontPort))
	v.SetDefault("femas.md_address", fmt.Sprintf("tcp://127.0.0.1:%d", FemasMarketFrontPort))
	v.SetDefault("femas.broker_id", "9999")
	v.SetDefault("femas.user_id", "")
	v.SetDefault("femas.password", "")
	v.SetDefault("femas.investor_id", "")
	v.SetDefault("femas.app_id", "")
	v.SetDefault("femas.auth_code", "")
	v.SetDefault("femas.user_product_info", "femasgate")
	v.SetDefault("femas.flow_path", "./flow/")
	v.SetDefault("femas.encoding", "gbk")
	v.SetDefault("femas.simulate", true)
	v.SetDefault("femas.auto_login", true)
	v.SetDefault("femas.simulator.connect_delay", time.Second)
	v.SetDefault("femas.simulator.response_delay", 200*time.Millisecond)
	v.SetDefault("femas.simulator.login_frames", 1)
	v.SetDefault("femas.simulator.tick_interval", time.Second)
	v.SetDefault("femas.simulator.initial_balance", 1_000_000.0)
	v.SetDefault("femas.simulator.seed", 0)

	// Bridge defaults
	v.SetDefault("bridge.callback_concurrency", 4)
	v.SetDefault("bridge.callback_timeout", 5*time.Second)

	// Trading defaults
	v.SetDefault("trading.order_rate", 10.0)
	v.SetDefault("trading.order_burst", 5)
	v.SetDefault("trading.query_rate", 1.0)
	v.SetDefault("trading.request_timeout", 10*time.Second)
	v.SetDefault("trading.breaker.max_failures", 5)
	v.SetDefault("trading.breaker.interval", time.Minute)
	v.SetDefault("trading.breaker.timeout", 30*time.Second)
	v.SetDefault("trading.relogin.max_retries", 3)
	v.SetDefault("trading.relogin.initial_backoff", time.Second)
	v.SetDefault("trading.relogin.max_backoff", 30*time.Second)

	// Market defaults
	v.SetDefault("market.instruments", []string{})
	v.SetDefault("market.stale_after", 5*time.Minute)
	v.SetDefault("market.cleanup_interval", time.Minute)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", APIServerPort)
	v.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.audit", true)
	v.SetDefault("api.auth.enabled", false)
	v.SetDefault("api.auth.header_name", "X-API-Key")
	v.SetDefault("api.auth.require_https", true)
	v.SetDefault("api.sessions.timeout", 30*time.Minute)
	v.SetDefault("api.sessions.cleanup_interval", 5*time.Minute)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", RedisPort)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", time.Hour)

	// NATS defaults
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", fmt.Sprintf("nats://localhost:%d", NATSPort))
	v.SetDefault("nats.prefix", "femas")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", PostgresPort)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "femasgate")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Vault defaults
	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", fmt.Sprintf("http://localhost:%d", VaultPort))
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.auth_method", "token")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.secret_path", "femasgate")
	v.SetDefault("vault.namespace", "")

	// Alert defaults
	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.interval", time.Minute)
	v.SetDefault("alerts.burst", 3)
	v.SetDefault("alerts.telegram.enabled", false)
	v.SetDefault("alerts.telegram.bot_token", "")

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", MetricsPort)
	v.SetDefault("monitoring.enable_metrics", true)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// InvestorOrUser returns the investor id, falling back to the user id.
func (c *FemasConfig) InvestorOrUser() string {
	if c.InvestorID != "" {
		return c.InvestorID
	}
	return c.UserID
}
