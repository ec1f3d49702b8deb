package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// SecretStrength represents the strength level of a secret
type SecretStrength int

const (
	SecretStrengthWeak SecretStrength = iota
	SecretStrengthMedium
	SecretStrengthStrong
)

// Values shipped in sample configs that must never reach production
var commonPlaceholders = []string{
	"changeme",
	"please_change_me",
	"your_password",
	"password",
	"secret",
	"pass1",
	"femasgate",
	"example",
	"sample",
	"default",
}

// SecretValidationResult contains the result of secret validation
type SecretValidationResult struct {
	IsValid  bool
	Strength SecretStrength
	Errors   []string
	Warnings []string
}

// ValidateSecret validates a secret for length, placeholders and character
// variety. requireStrong rejects weak secrets instead of only grading them.
func ValidateSecret(secret string, name string, minLength int, requireStrong bool) SecretValidationResult {
	result := SecretValidationResult{
		IsValid:  true,
		Strength: SecretStrengthStrong,
	}

	if secret == "" {
		result.IsValid = false
		result.Strength = SecretStrengthWeak
		result.Errors = append(result.Errors, fmt.Sprintf("%s cannot be empty", name))
		return result
	}

	lowerSecret := strings.ToLower(secret)
	for _, placeholder := range commonPlaceholders {
		if strings.Contains(lowerSecret, placeholder) {
			result.IsValid = false
			result.Strength = SecretStrengthWeak
			result.Errors = append(result.Errors, fmt.Sprintf("%s appears to be a placeholder value (%s)", name, placeholder))
			return result
		}
	}

	if len(secret) < minLength {
		result.IsValid = false
		result.Strength = SecretStrengthWeak
		result.Errors = append(result.Errors, fmt.Sprintf("%s must be at least %d characters (got %d)", name, minLength, len(secret)))
		return result
	}

	typesCount := 0
	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range secret {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}
	for _, has := range []bool{hasUpper, hasLower, hasNumber, hasSpecial} {
		if has {
			typesCount++
		}
	}

	switch {
	case len(secret) >= 16 && typesCount >= 3:
		result.Strength = SecretStrengthStrong
	case len(secret) >= 12 && typesCount >= 2:
		result.Strength = SecretStrengthMedium
	default:
		result.Strength = SecretStrengthWeak
	}

	if hasSequentialChars(secret) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s contains sequential characters (e.g., 123, abc)", name))
		if result.Strength == SecretStrengthMedium {
			result.Strength = SecretStrengthWeak
		}
	}

	if requireStrong {
		switch result.Strength {
		case SecretStrengthWeak:
			result.IsValid = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s is too weak for production use", name))
		case SecretStrengthMedium:
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s has medium strength - consider using a stronger secret", name))
		}
	}

	return result
}

// hasSequentialChars checks for three ascending characters such as 123 or abc
func hasSequentialChars(s string) bool {
	lower := strings.ToLower(s)
	for i := 0; i < len(lower)-2; i++ {
		if lower[i+1] == lower[i]+1 && lower[i+2] == lower[i]+2 {
			return true
		}
	}
	return false
}

// ValidateProductionSecrets validates all secrets for production use
func ValidateProductionSecrets(cfg *Config) ValidationErrors {
	var errors ValidationErrors

	const minProductionLength = 12

	check := func(field, name, value string, minLength int, requireStrong bool) {
		if value == "" {
			return
		}
		result := ValidateSecret(value, name, minLength, requireStrong)
		for _, err := range result.Errors {
			errors = append(errors, ValidationError{Field: field, Message: err})
		}
		if result.IsValid && len(result.Warnings) > 0 {
			log.Warn().
				Str("field", field).
				Str("strength", GetSecretStrengthDescription(result.Strength)).
				Strs("warnings", result.Warnings).
				Msg("Secret accepted with warnings")
		}
	}

	// Broker-issued credentials are not under our control, so only length and
	// placeholders are enforced for them.
	check("femas.password", "Femas password", cfg.Femas.Password, 6, false)
	check("femas.auth_code", "Femas auth code", cfg.Femas.AuthCode, 8, false)
	check("database.password", "Database password", cfg.Database.Password, minProductionLength, true)
	check("redis.password", "Redis password", cfg.Redis.Password, minProductionLength, true)
	for i, u := range cfg.API.Sessions.Users {
		check(fmt.Sprintf("api.sessions.users[%d].password", i), "Password of "+u.Username, u.Password, minProductionLength, true)
	}

	return errors
}

// GetSecretStrengthDescription returns a human-readable description of secret strength
func GetSecretStrengthDescription(strength SecretStrength) string {
	switch strength {
	case SecretStrengthWeak:
		return "Weak"
	case SecretStrengthMedium:
		return "Medium"
	case SecretStrengthStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// ================================================
// HashiCorp Vault Integration
// ================================================

// VaultConfig holds Vault connection configuration
type VaultConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`       // falls back to VAULT_TOKEN
	AuthMethod string `mapstructure:"auth_method"` // token or approle
	MountPath  string `mapstructure:"mount_path"`
	SecretPath string `mapstructure:"secret_path"`
	Namespace  string `mapstructure:"namespace"`
}

// VaultClient wraps HashiCorp Vault client for secrets management
type VaultClient struct {
	client *vault.Client
	config VaultConfig
}

// NewVaultClient creates a new Vault client from configuration
func NewVaultClient(cfg VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("vault is not enabled in configuration")
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	switch cfg.AuthMethod {
	case "token", "":
		if cfg.Token == "" {
			cfg.Token = os.Getenv("VAULT_TOKEN")
		}
		if cfg.Token == "" {
			return nil, fmt.Errorf("VAULT_TOKEN not set for token authentication")
		}
		client.SetToken(cfg.Token)

	case "approle":
		if err := authenticateAppRole(client); err != nil {
			return nil, fmt.Errorf("AppRole authentication failed: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported Vault auth method: %s", cfg.AuthMethod)
	}

	log.Info().
		Str("address", cfg.Address).
		Str("auth_method", cfg.AuthMethod).
		Str("secret_path", cfg.SecretPath).
		Msg("Vault client initialized")

	return &VaultClient{client: client, config: cfg}, nil
}

// GetSecret retrieves a secret from Vault. path is relative to SecretPath.
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	fullPath := fmt.Sprintf("%s/data/%s/%s", vc.config.MountPath, vc.config.SecretPath, path)

	log.Debug().Str("path", fullPath).Msg("Reading secret from Vault")

	secret, err := vc.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from Vault: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secret not found at path: %s", fullPath)
	}

	// KV v2 nests the payload under "data"
	if data, ok := secret.Data["data"].(map[string]interface{}); ok {
		return data, nil
	}
	return secret.Data, nil
}

// LoadSecretsFromVault overrides vendor, database and Redis credentials with
// the values stored in Vault. Missing paths are logged and skipped.
func LoadSecretsFromVault(ctx context.Context, cfg *Config) error {
	if !cfg.Vault.Enabled {
		log.Info().Msg("Vault integration disabled - using config and environment for secrets")
		return nil
	}

	vc, err := NewVaultClient(cfg.Vault)
	if err != nil {
		return fmt.Errorf("failed to create Vault client: %w", err)
	}

	loaders := map[string]func(map[string]interface{}){
		"femas": func(s map[string]interface{}) {
			setIfString(s, "password", &cfg.Femas.Password)
			setIfString(s, "auth_code", &cfg.Femas.AuthCode)
			setIfString(s, "user_id", &cfg.Femas.UserID)
		},
		"database": func(s map[string]interface{}) {
			setIfString(s, "url", &cfg.Database.URL)
			setIfString(s, "password", &cfg.Database.Password)
		},
		"redis": func(s map[string]interface{}) {
			setIfString(s, "password", &cfg.Redis.Password)
		},
		"telegram": func(s map[string]interface{}) {
			setIfString(s, "bot_token", &cfg.Alerts.Telegram.BotToken)
		},
	}

	for path, load := range loaders {
		secrets, err := vc.GetSecret(ctx, path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to load secrets from Vault")
			continue
		}
		load(secrets)
		log.Info().Str("path", path).Msg("Loaded secrets from Vault")
	}

	return nil
}

func setIfString(secrets map[string]interface{}, key string, dst *string) {
	if v, ok := secrets[key].(string); ok && v != "" {
		*dst = v
	}
}

// authenticateAppRole performs AppRole authentication
func authenticateAppRole(client *vault.Client) error {
	roleID := os.Getenv("VAULT_ROLE_ID")
	secretID := os.Getenv("VAULT_SECRET_ID")
	if roleID == "" || secretID == "" {
		return fmt.Errorf("VAULT_ROLE_ID and VAULT_SECRET_ID must be set for AppRole authentication")
	}

	secret, err := client.Logical().Write("auth/approle/login", map[string]interface{}{
		"role_id":   roleID,
		"secret_id": secretID,
	})
	if err != nil {
		return fmt.Errorf("failed to login with AppRole: %w", err)
	}
	if secret == nil || secret.Auth == nil {
		return fmt.Errorf("AppRole authentication returned no token")
	}

	client.SetToken(secret.Auth.ClientToken)
	log.Info().Msg("Authenticated to Vault using AppRole")
	return nil
}
