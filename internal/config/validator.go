package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ValidatorOptions contains options for configuration validation
type ValidatorOptions struct {
	VerifyConnectivity bool // Check database/Redis connectivity
	Timeout            time.Duration
}

// DefaultValidatorOptions returns default validator options for startup
func DefaultValidatorOptions() ValidatorOptions {
	return ValidatorOptions{
		VerifyConnectivity: true,
		Timeout:            5 * time.Second,
	}
}

// Validator handles configuration validation at startup
type Validator struct {
	config  *Config
	options ValidatorOptions
}

// NewValidator creates a new configuration validator
func NewValidator(config *Config, options ValidatorOptions) *Validator {
	return &Validator{
		config:  config,
		options: options,
	}
}

// ValidateStartup checks the environment the gateway is about to run in.
// Call it before starting any session.
func (v *Validator) ValidateStartup(ctx context.Context) error {
	log.Info().Msg("Validating configuration...")

	if err := v.checkFlowPath(); err != nil {
		return fmt.Errorf("flow path check failed: %w", err)
	}

	if v.options.VerifyConnectivity && v.config.Database.Enabled {
		if err := v.checkDatabaseConnectivity(ctx); err != nil {
			return fmt.Errorf("database connectivity check failed: %w", err)
		}
	}

	if v.options.VerifyConnectivity && v.config.Redis.Enabled {
		if err := v.checkRedisConnectivity(ctx); err != nil {
			return fmt.Errorf("redis connectivity check failed: %w", err)
		}
	}

	log.Info().Msg("Configuration validation completed successfully")
	return nil
}

// checkFlowPath makes sure the vendor can persist its flow files.
func (v *Validator) checkFlowPath() error {
	dir := v.config.Femas.FlowPath
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create flow directory %s: %w", dir, err)
	}

	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("flow directory %s is not writable: %w", dir, err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)

	abs, _ := filepath.Abs(dir)
	log.Info().Str("flow_path", abs).Msg("Flow path check passed")
	return nil
}

// checkDatabaseConnectivity tests database connection with timeout
func (v *Validator) checkDatabaseConnectivity(ctx context.Context) error {
	connCtx, cancel := context.WithTimeout(ctx, v.options.Timeout)
	defer cancel()

	pool, err := pgxpool.New(connCtx, v.config.Database.GetDSN())
	if err != nil {
		return fmt.Errorf("failed to create database connection pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(connCtx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	var dbName string
	if err := pool.QueryRow(connCtx, "SELECT current_database()").Scan(&dbName); err != nil {
		return fmt.Errorf("failed to verify database: %w", err)
	}

	log.Info().Str("database", dbName).Msg("Database connectivity check passed")
	return nil
}

// checkRedisConnectivity tests Redis connection with timeout
func (v *Validator) checkRedisConnectivity(ctx context.Context) error {
	connCtx, cancel := context.WithTimeout(ctx, v.options.Timeout)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:     v.config.Redis.GetRedisAddr(),
		Password: v.config.Redis.Password,
		DB:       v.config.Redis.DB,
	})
	defer client.Close()

	if err := client.Ping(connCtx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.Info().
		Str("addr", v.config.Redis.GetRedisAddr()).
		Int("db", v.config.Redis.DB).
		Msg("Redis connectivity check passed")
	return nil
}
