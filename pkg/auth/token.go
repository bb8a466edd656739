package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// TokenPrefix identifies warden tokens
	TokenPrefix = "warden_"
	// TokenLength is the total length of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// TokenGenerator generates and validates API tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new API token.
// Format: warden_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encodedToken := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := TokenPrefix + encodedToken

	// SHA256 hash for storage; the raw token is never persisted
	hash := sha256.Sum256([]byte(fullToken))
	hashStr := hex.EncodeToString(hash[:])

	// First 8 chars after the prefix for identification in listings
	prefix := TokenPrefix
	if len(encodedToken) >= 8 {
		prefix = TokenPrefix + encodedToken[:8]
	}

	return fullToken, hashStr, prefix, nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}

// TokenManager validates API tokens against the database
type TokenManager struct {
	db        *sql.DB
	generator *TokenGenerator
}

// NewTokenManager creates a new token manager
func NewTokenManager(db *sql.DB) *TokenManager {
	return &TokenManager{
		db:        db,
		generator: NewTokenGenerator(),
	}
}

// CreateToken mints a token for a user and stores its hash
func (tm *TokenManager) CreateToken(ctx context.Context, userID uuid.UUID, name string, permissions []Permission, expiresAt *time.Time) (string, *APIToken, error) {
	token, tokenHash, tokenPrefix, err := tm.generator.GenerateToken()
	if err != nil {
		return "", nil, err
	}

	permsJSON, err := json.Marshal(permissions)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal permissions: %w", err)
	}

	record := &APIToken{
		UserID:      userID,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		Name:        name,
		Permissions: permissions,
		ExpiresAt:   expiresAt,
	}

	query := `
		INSERT INTO api_tokens (user_id, token_hash, token_prefix, name, permissions, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err = tm.db.QueryRowContext(ctx, query, userID.String(), tokenHash, tokenPrefix, name, permsJSON, expiresAt).
		Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return "", nil, fmt.Errorf("failed to store token: %w", err)
	}

	return token, record, nil
}

// ValidateToken looks up a presented token and returns the caller context
func (tm *TokenManager) ValidateToken(ctx context.Context, token string) (*Context, error) {
	if err := tm.generator.ValidateTokenFormat(token); err != nil {
		return nil, err
	}

	tokenHash := tm.generator.HashToken(token)

	query := `
		SELECT id, user_id, token_prefix, name, permissions, expires_at, last_used_at, created_at, revoked_at
		FROM api_tokens
		WHERE token_hash = $1
	`

	var record APIToken
	var userIDStr string
	var permsJSON []byte
	err := tm.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&record.ID,
		&userIDStr,
		&record.TokenPrefix,
		&record.Name,
		&permsJSON,
		&record.ExpiresAt,
		&record.LastUsedAt,
		&record.CreatedAt,
		&record.RevokedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("unknown token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	record.TokenHash = tokenHash
	record.UserID, err = uuid.Parse(userIDStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt token record: %w", err)
	}

	if len(permsJSON) > 0 {
		if err := json.Unmarshal(permsJSON, &record.Permissions); err != nil {
			return nil, fmt.Errorf("corrupt token permissions: %w", err)
		}
	}

	if !record.IsValid(time.Now()) {
		return nil, fmt.Errorf("token expired or revoked")
	}

	// Best effort; a failed update must not reject the request
	_, _ = tm.db.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = $1 WHERE id = $2`, time.Now(), record.ID)

	return &Context{
		UserID:      record.UserID,
		Permissions: record.Permissions,
		Token:       &record,
	}, nil
}

// RevokeToken marks a token as revoked
func (tm *TokenManager) RevokeToken(ctx context.Context, tokenID int64) error {
	result, err := tm.db.ExecContext(ctx, `UPDATE api_tokens SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`, time.Now(), tokenID)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("token not found or already revoked")
	}
	return nil
}
