package api

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/femasgate/internal/config"
	"github.com/ajitpratap0/femasgate/internal/metrics"
)

// Permissions checked on control routes. "*" and "admin" grant every one.
const (
	PermissionTrading = "trading"
	PermissionMarket  = "market"
)

// Context keys set by AuthMiddleware for downstream handlers and the audit
// trail.
const (
	ctxUserID      = "user_id"
	ctxAPIKeyID    = "api_key_id"
	ctxAPIKeyName  = "api_key_name"
	ctxPermissions = "permissions"
)

const keyPrefix = "fg_"

// APIKeySchema creates the api_keys table.
const APIKeySchema = `
CREATE TABLE IF NOT EXISTS api_keys (
    id           UUID PRIMARY KEY,
    key_hash     TEXT NOT NULL UNIQUE,
    name         TEXT NOT NULL,
    user_id      TEXT NOT NULL,
    permissions  JSONB NOT NULL DEFAULT '[]',
    last_used_at TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at   TIMESTAMPTZ,
    revoked      BOOLEAN NOT NULL DEFAULT FALSE
)`

// APIKey represents an API key stored in the database
type APIKey struct {
	ID          uuid.UUID  `json:"id"`
	KeyHash     string     `json:"-"`
	Name        string     `json:"name"`
	UserID      string     `json:"user_id"`
	Permissions []string   `json:"permissions"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Revoked     bool       `json:"revoked"`
}

// Allows reports whether the key grants permission.
func (k *APIKey) Allows(permission string) bool {
	return slices.ContainsFunc(k.Permissions, func(p string) bool {
		return p == permission || p == "*" || p == "admin"
	})
}

// KeyDB is the subset of the journal pool the key store uses.
type KeyDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// APIKeyStore handles API key storage and validation
type APIKeyStore struct {
	db  KeyDB
	now func() time.Time
	log zerolog.Logger
	wg  sync.WaitGroup
}

// NewAPIKeyStore creates a key store on the journal database.
func NewAPIKeyStore(db KeyDB) *APIKeyStore {
	return &APIKeyStore{db: db, now: time.Now, log: config.NewLogger("auth")}
}

// HashAPIKey creates a SHA-256 hash of an API key
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Migrate creates the api_keys table.
func (s *APIKeyStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, APIKeySchema); err != nil {
		return fmt.Errorf("failed to create api_keys table: %w", err)
	}
	return nil
}

// CreateKey stores a new key and returns its plaintext, which is not kept.
// A zero ttl never expires.
func (s *APIKeyStore) CreateKey(ctx context.Context, name, userID string, permissions []string, ttl time.Duration) (string, *APIKey, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(userID) == "" {
		return "", nil, fmt.Errorf("%w: key name and user id are required", errBadRequest)
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("failed to generate API key: %w", err)
	}
	plain := keyPrefix + hex.EncodeToString(raw)

	if permissions == nil {
		permissions = []string{}
	}
	perms, err := json.Marshal(permissions)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode permissions: %w", err)
	}
	now := s.now().UTC()
	key := &APIKey{
		ID:          uuid.New(),
		KeyHash:     HashAPIKey(plain),
		Name:        name,
		UserID:      userID,
		Permissions: permissions,
		CreatedAt:   now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		key.ExpiresAt = &exp
	}

	query := `
		INSERT INTO api_keys (id, key_hash, name, user_id, permissions, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := s.db.Exec(ctx, query, key.ID, key.KeyHash, key.Name, key.UserID, perms, key.CreatedAt, key.ExpiresAt); err != nil {
		return "", nil, fmt.Errorf("failed to store API key: %w", err)
	}
	s.log.Info().Str("key_id", key.ID.String()).Str("name", name).Str("user_id", userID).Msg("API key created")
	return plain, key, nil
}

// RevokeKey marks a key revoked. It reports false when no key has the id.
func (s *APIKeyStore) RevokeKey(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE api_keys SET revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to revoke API key: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ValidateKey returns the key record of a usable key, or nil for an unknown,
// revoked or expired key.
func (s *APIKeyStore) ValidateKey(ctx context.Context, key string) (*APIKey, error) {
	query := `
		SELECT id, key_hash, name, user_id, permissions, last_used_at,
		       created_at, expires_at, revoked
		FROM api_keys
		WHERE key_hash = $1
	`

	var apiKey APIKey
	var permissions []byte

	err := s.db.QueryRow(ctx, query, HashAPIKey(key)).Scan(
		&apiKey.ID,
		&apiKey.KeyHash,
		&apiKey.Name,
		&apiKey.UserID,
		&permissions,
		&apiKey.LastUsedAt,
		&apiKey.CreatedAt,
		&apiKey.ExpiresAt,
		&apiKey.Revoked,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}

	if len(permissions) > 0 {
		if err := json.Unmarshal(permissions, &apiKey.Permissions); err != nil {
			return nil, fmt.Errorf("invalid permissions JSON: %w", err)
		}
	}

	if apiKey.Revoked {
		return nil, nil
	}
	if apiKey.ExpiresAt != nil && apiKey.ExpiresAt.Before(s.now()) {
		return nil, nil
	}

	// The request context ends with the reply, so the touch gets its own.
	id := apiKey.ID
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.db.Exec(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id); err != nil {
			s.log.Debug().Err(err).Str("key_id", id.String()).Msg("Failed to record API key use")
		}
	}()

	return &apiKey, nil
}

// Close waits for pending last-used updates.
func (s *APIKeyStore) Close() {
	s.wg.Wait()
}

// AuthMiddleware validates the API key of a request and requires permission.
// A nil store or disabled config lets every request through.
func AuthMiddleware(store *APIKeyStore, cfg config.AuthConfig, permission string) gin.HandlerFunc {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "X-API-Key"
	}
	log := config.NewLogger("auth")

	return func(c *gin.Context) {
		if store == nil || !cfg.Enabled {
			c.Next()
			return
		}

		if cfg.RequireHTTPS && c.Request.TLS == nil && c.GetHeader("X-Forwarded-Proto") != "https" {
			host := c.Request.Host
			if !strings.HasPrefix(host, "localhost") && !strings.HasPrefix(host, "127.0.0.1") {
				log.Warn().Str("host", host).Str("ip", c.ClientIP()).Msg("Auth: HTTPS required but request is HTTP")
				metrics.APIKeyChecks.WithLabelValues("insecure").Inc()
				abort(c, http.StatusForbidden, "HTTPS required for API access")
				return
			}
		}

		apiKey := c.GetHeader(cfg.HeaderName)
		if apiKey == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if apiKey == "" {
			log.Debug().Str("ip", c.ClientIP()).Str("path", c.Request.URL.Path).Msg("Auth: No API key provided")
			metrics.APIKeyChecks.WithLabelValues("missing").Inc()
			abort(c, http.StatusUnauthorized, "API key required: provide it via "+cfg.HeaderName+" or Authorization: Bearer <key>")
			return
		}

		key, err := store.ValidateKey(c.Request.Context(), apiKey)
		if err != nil {
			log.Error().Err(err).Str("ip", c.ClientIP()).Msg("Auth: Error validating API key")
			metrics.APIKeyChecks.WithLabelValues("error").Inc()
			abort(c, http.StatusInternalServerError, "Authentication error")
			return
		}
		if key == nil {
			log.Warn().Str("ip", c.ClientIP()).Str("path", c.Request.URL.Path).Msg("Auth: Invalid or expired API key")
			metrics.APIKeyChecks.WithLabelValues("invalid").Inc()
			abort(c, http.StatusUnauthorized, "Invalid or expired API key")
			return
		}
		if !key.Allows(permission) {
			log.Warn().
				Str("required", permission).
				Strs("has", key.Permissions).
				Str("path", c.Request.URL.Path).
				Msg("Auth: Permission denied")
			metrics.APIKeyChecks.WithLabelValues("denied").Inc()
			abort(c, http.StatusForbidden, "Insufficient permissions: "+permission+" required")
			return
		}

		c.Set(ctxUserID, key.UserID)
		c.Set(ctxAPIKeyID, key.ID.String())
		c.Set(ctxAPIKeyName, key.Name)
		c.Set(ctxPermissions, key.Permissions)
		metrics.APIKeyChecks.WithLabelValues("ok").Inc()

		log.Debug().
			Str("user_id", key.UserID).
			Str("key_name", key.Name).
			Str("path", c.Request.URL.Path).
			Msg("Auth: Request authenticated")
		c.Next()
	}
}

func abort(c *gin.Context, status int, message string) {
	c.Set(auditErrorKey, message)
	respond(c, status, Response{Code: status, Message: message})
	c.Abort()
}
