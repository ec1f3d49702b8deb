package config

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSecret_Empty(t *testing.T) {
	result := ValidateSecret("", "test_secret", 12, true)
	assert.False(t, result.IsValid)
	assert.Equal(t, SecretStrengthWeak, result.Strength)
	assert.Contains(t, result.Errors[0], "cannot be empty")
}

func TestValidateSecret_Placeholders(t *testing.T) {
	placeholders := []string{
		"changeme",
		"CHANGEME",
		"please_change_me",
		"pass1",
		"femasgate-prod",
		"password",
	}

	for _, placeholder := range placeholders {
		t.Run(placeholder, func(t *testing.T) {
			result := ValidateSecret(placeholder, "test_secret", 12, true)
			assert.False(t, result.IsValid)
			assert.Equal(t, SecretStrengthWeak, result.Strength)
			assert.NotEmpty(t, result.Errors)
		})
	}
}

func TestValidateSecret_TooShort(t *testing.T) {
	result := ValidateSecret("short", "test_secret", 12, true)
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors[0], "at least 12 characters")
}

func TestValidateSecret_Strength(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		strong   bool
		valid    bool
		strength SecretStrength
	}{
		{name: "weak composition", secret: "qwpoeirutyal", strong: true, valid: false, strength: SecretStrengthWeak},
		{name: "medium allowed when not strict", secret: "h7j2p9k4m6q8", strong: false, valid: true, strength: SecretStrengthMedium},
		{name: "medium passes strict with warning", secret: "h7j2p9k4m6q8", strong: true, valid: true, strength: SecretStrengthMedium},
		{name: "strong", secret: "Xk9#mQ2$vL7!pR4w", strong: true, valid: true, strength: SecretStrengthStrong},
		{name: "sequential downgrades medium", secret: "h7j2p9k4m123", strong: true, valid: false, strength: SecretStrengthWeak},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateSecret(tt.secret, "test_secret", 12, tt.strong)
			assert.Equal(t, tt.valid, result.IsValid, "errors: %v", result.Errors)
			assert.Equal(t, tt.strength, result.Strength)
		})
	}
}

func TestHasSequentialChars(t *testing.T) {
	assert.True(t, hasSequentialChars("x123y"))
	assert.True(t, hasSequentialChars("ABCd"))
	assert.False(t, hasSequentialChars("h7j2p9"))
	assert.False(t, hasSequentialChars("ab"))
}

func TestValidateProductionSecrets(t *testing.T) {
	cfg := getValidConfig()
	cfg.Femas.Password = "Tr4d3r!x"
	cfg.Database.Password = "Xk9#mQ2$vL7!pR4w"
	assert.Empty(t, ValidateProductionSecrets(cfg))

	cfg.Femas.Password = "pass1"
	cfg.Redis.Password = "short"
	errs := ValidateProductionSecrets(cfg)
	require.Len(t, errs, 2)
	assert.Equal(t, "femas.password", errs[0].Field)
	assert.Equal(t, "redis.password", errs[1].Field)
}

func TestGetSecretStrengthDescription(t *testing.T) {
	assert.Equal(t, "Weak", GetSecretStrengthDescription(SecretStrengthWeak))
	assert.Equal(t, "Medium", GetSecretStrengthDescription(SecretStrengthMedium))
	assert.Equal(t, "Strong", GetSecretStrengthDescription(SecretStrengthStrong))
	assert.Equal(t, "Unknown", GetSecretStrengthDescription(SecretStrength(9)))
}

func TestNewVaultClientRequiresToken(t *testing.T) {
	t.Setenv("VAULT_TOKEN", "")

	_, err := NewVaultClient(VaultConfig{Enabled: false})
	assert.Error(t, err)

	_, err = NewVaultClient(VaultConfig{Enabled: true, Address: "http://127.0.0.1:1", AuthMethod: "token"})
	assert.ErrorContains(t, err, "VAULT_TOKEN")

	_, err = NewVaultClient(VaultConfig{Enabled: true, Address: "http://127.0.0.1:1", AuthMethod: "kerberos", Token: "t"})
	assert.ErrorContains(t, err, "unsupported")
}

// TestLoadSecretsFromVault serves a KV v2 mount over httptest
func TestLoadSecretsFromVault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s.test", r.Header.Get("X-Vault-Token"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/secret/data/femasgate/femas":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{
					"data": map[string]any{"password": "from-vault", "auth_code": "AUTH0001"},
				},
			})
		case "/v1/secret/data/femasgate/database":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{
					"data": map[string]any{"url": "postgres://journal@db/femasgate"},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
		}
	}))
	defer srv.Close()

	cfg := getValidConfig()
	cfg.Redis.Password = "keep-me"
	cfg.Vault = VaultConfig{
		Enabled:    true,
		Address:    srv.URL,
		Token:      "s.test",
		AuthMethod: "token",
		MountPath:  "secret",
		SecretPath: "femasgate",
	}

	require.NoError(t, LoadSecretsFromVault(context.Background(), cfg))
	assert.Equal(t, "from-vault", cfg.Femas.Password)
	assert.Equal(t, "AUTH0001", cfg.Femas.AuthCode)
	assert.Equal(t, "postgres://journal@db/femasgate", cfg.Database.URL)
	assert.Equal(t, "keep-me", cfg.Redis.Password, "missing path leaves value untouched")
}

func TestLoadSecretsFromVaultDisabled(t *testing.T) {
	cfg := getValidConfig()
	cfg.Femas.Password = "unchanged"
	require.NoError(t, LoadSecretsFromVault(context.Background(), cfg))
	assert.Equal(t, "unchanged", cfg.Femas.Password)
}
