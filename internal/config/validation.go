package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateFemas()...)
	errors = append(errors, c.validateBridge()...)
	errors = append(errors, c.validateTrading()...)
	errors = append(errors, c.validateMarket()...)
	errors = append(errors, c.validateAPI()...)
	errors = append(errors, c.validateRedis()...)
	errors = append(errors, c.validateNATS()...)
	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateAlerts()...)
	errors = append(errors, c.validateEnvironmentRequirements()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	validEnvs := []string{"development", "staging", "production"}
	if c.App.Environment == "" {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: "Environment is required (development, staging, or production)",
		})
	} else if !slices.Contains(validEnvs, c.App.Environment) {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
		})
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: "Log level is required (debug, info, warn, error)",
		})
	}

	if c.App.LogFormat != "" && c.App.LogFormat != "json" && c.App.LogFormat != "console" {
		errors = append(errors, ValidationError{
			Field:   "app.log_format",
			Message: fmt.Sprintf("Invalid log format '%s'. Must be 'json' or 'console'", c.App.LogFormat),
		})
	}

	return errors
}

func (c *Config) validateFemas() ValidationErrors {
	var errors ValidationErrors
	f := c.Femas

	if f.FrontAddress == "" {
		errors = append(errors, ValidationError{
			Field:   "femas.front_address",
			Message: "Trader front address is required",
		})
	} else if !strings.HasPrefix(f.FrontAddress, "tcp://") {
		errors = append(errors, ValidationError{
			Field:   "femas.front_address",
			Message: "Front address must start with 'tcp://'",
		})
	}

	if f.MdAddress != "" && !strings.HasPrefix(f.MdAddress, "tcp://") {
		errors = append(errors, ValidationError{
			Field:   "femas.md_address",
			Message: "Market-data front address must start with 'tcp://'",
		})
	}

	if f.BrokerID == "" {
		errors = append(errors, ValidationError{
			Field:   "femas.broker_id",
			Message: "Broker ID is required",
		})
	}

	if f.AutoLogin && f.UserID == "" {
		errors = append(errors, ValidationError{
			Field:   "femas.user_id",
			Message: "User ID is required when auto_login is enabled",
		})
	}

	if f.FlowPath == "" {
		errors = append(errors, ValidationError{
			Field:   "femas.flow_path",
			Message: "Flow path is required",
		})
	}

	switch strings.ToLower(f.Encoding) {
	case "", "utf8", "utf-8", "gbk":
	default:
		errors = append(errors, ValidationError{
			Field:   "femas.encoding",
			Message: fmt.Sprintf("Invalid encoding '%s'. Must be 'utf8' or 'gbk'", f.Encoding),
		})
	}

	if f.Simulate && f.Simulator.LoginFrames < 0 {
		errors = append(errors, ValidationError{
			Field:   "femas.simulator.login_frames",
			Message: "Login frames must not be negative",
		})
	}

	return errors
}

func (c *Config) validateBridge() ValidationErrors {
	var errors ValidationErrors

	if c.Bridge.CallbackConcurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "bridge.callback_concurrency",
			Message: "Callback concurrency must be at least 1",
		})
	}

	if c.Bridge.CallbackTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "bridge.callback_timeout",
			Message: "Callback timeout must be positive",
		})
	}

	return errors
}

func (c *Config) validateTrading() ValidationErrors {
	var errors ValidationErrors
	t := c.Trading

	if t.OrderRate <= 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.order_rate",
			Message: "Order rate must be greater than 0",
		})
	}

	if t.OrderBurst < 1 {
		errors = append(errors, ValidationError{
			Field:   "trading.order_burst",
			Message: "Order burst must be at least 1",
		})
	}

	if t.QueryRate <= 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.query_rate",
			Message: "Query rate must be greater than 0",
		})
	}

	if t.RequestTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.request_timeout",
			Message: "Request timeout must be positive",
		})
	}

	if t.Breaker.MaxFailures < 1 {
		errors = append(errors, ValidationError{
			Field:   "trading.breaker.max_failures",
			Message: "Breaker max failures must be at least 1",
		})
	}

	if t.Relogin.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.relogin.max_retries",
			Message: "Relogin max retries must not be negative",
		})
	}

	return errors
}

func (c *Config) validateMarket() ValidationErrors {
	var errors ValidationErrors

	for i, id := range c.Market.Instruments {
		if strings.TrimSpace(id) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("market.instruments[%d]", i),
				Message: "Instrument ID must not be empty",
			})
		}
	}

	if c.Market.StaleAfter < 0 {
		errors = append(errors, ValidationError{
			Field:   "market.stale_after",
			Message: "Stale threshold must not be negative",
		})
	}

	return errors
}

func validatePort(field string, port int) ValidationErrors {
	if port == 0 {
		return ValidationErrors{{Field: field, Message: "Port is required"}}
	}
	if port < 1 || port > 65535 {
		return ValidationErrors{{Field: field, Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", port)}}
	}
	return nil
}

func (c *Config) validateAPI() ValidationErrors {
	errors := validatePort("api.port", c.API.Port)

	if c.API.Auth.Enabled && !c.Database.Enabled {
		errors = append(errors, ValidationError{
			Field:   "api.auth.enabled",
			Message: "API key authentication requires database.enabled",
		})
	}
	if c.API.Sessions.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "api.sessions.timeout",
			Message: "Session timeout cannot be negative",
		})
	}
	if c.API.Sessions.CleanupInterval < 0 {
		errors = append(errors, ValidationError{
			Field:   "api.sessions.cleanup_interval",
			Message: "Cleanup interval cannot be negative",
		})
	}
	seen := make(map[string]struct{}, len(c.API.Sessions.Users))
	for i, u := range c.API.Sessions.Users {
		field := fmt.Sprintf("api.sessions.users[%d]", i)
		if strings.TrimSpace(u.Username) == "" || u.Password == "" {
			errors = append(errors, ValidationError{Field: field, Message: "Username and password are required"})
			continue
		}
		if _, dup := seen[u.Username]; dup {
			errors = append(errors, ValidationError{Field: field, Message: fmt.Sprintf("Duplicate user %q", u.Username)})
		}
		seen[u.Username] = struct{}{}
	}

	return errors
}

func (c *Config) validateRedis() ValidationErrors {
	if !c.Redis.Enabled {
		return nil
	}
	var errors ValidationErrors

	if c.Redis.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "redis.host",
			Message: "Redis host is required",
		})
	}
	errors = append(errors, validatePort("redis.port", c.Redis.Port)...)

	return errors
}

func (c *Config) validateNATS() ValidationErrors {
	if !c.NATS.Enabled {
		return nil
	}
	var errors ValidationErrors

	if c.NATS.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL is required",
		})
	} else if !strings.HasPrefix(c.NATS.URL, "nats://") {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL must start with 'nats://'",
		})
	}

	return errors
}

func (c *Config) validateDatabase() ValidationErrors {
	if !c.Database.Enabled || c.Database.URL != "" {
		return nil
	}
	var errors ValidationErrors

	if c.Database.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "database.host",
			Message: "Database host is required",
		})
	}
	errors = append(errors, validatePort("database.port", c.Database.Port)...)

	if c.Database.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "database.database",
			Message: "Database name is required",
		})
	}

	if c.Database.PoolSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.pool_size",
			Message: "Database pool size must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateAlerts() ValidationErrors {
	var errors ValidationErrors

	if c.Alerts.Interval < 0 {
		errors = append(errors, ValidationError{
			Field:   "alerts.interval",
			Message: "Alert interval must not be negative",
		})
	}

	tg := c.Alerts.Telegram
	if c.Alerts.Enabled && tg.Enabled {
		if tg.BotToken == "" {
			errors = append(errors, ValidationError{
				Field:   "alerts.telegram.bot_token",
				Message: "Bot token is required when Telegram alerts are enabled",
			})
		}
		if len(tg.ChatIDs) == 0 {
			errors = append(errors, ValidationError{
				Field:   "alerts.telegram.chat_ids",
				Message: "At least one chat ID is required when Telegram alerts are enabled",
			})
		}
	}

	return errors
}

func (c *Config) validateEnvironmentRequirements() ValidationErrors {
	if c.App.Environment != "production" {
		return nil
	}
	var errors ValidationErrors

	errors = append(errors, ValidateProductionSecrets(c)...)

	if c.Femas.Simulate {
		errors = append(errors, ValidationError{
			Field:   "femas.simulate",
			Message: "Simulator must be disabled in production",
		})
	}

	if c.Database.Enabled && c.Database.URL == "" && c.Database.SSLMode == "disable" {
		errors = append(errors, ValidationError{
			Field:   "database.ssl_mode",
			Message: "SSL must be enabled for database in production",
		})
	}

	return errors
}
