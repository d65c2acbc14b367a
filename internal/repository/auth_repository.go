package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tarang-school/pay-api/internal/models"
)

// AuthRepository provides database access for credentials and refresh
// tokens. Secrets live in relational tables rather than the profile
// documents so a hash can never leak through a document read.
type AuthRepository struct {
	db *sqlx.DB
}

// NewAuthRepository creates a new instance of AuthRepository.
func NewAuthRepository(db *sqlx.DB) *AuthRepository {
	return &AuthRepository{db: db}
}

// FindCredential returns the stored credential for an email.
func (r *AuthRepository) FindCredential(ctx context.Context, email string) (*models.Credential, error) {
	const query = `SELECT email, password_hash, role, active, last_login, created_at, updated_at FROM credentials WHERE email = $1 LIMIT 1`
	var cred models.Credential
	if err := r.db.GetContext(ctx, &cred, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find credential: %w", err)
	}
	return &cred, nil
}

// CreateCredential inserts a new credential row.
func (r *AuthRepository) CreateCredential(ctx context.Context, cred *models.Credential) error {
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	const query = `INSERT INTO credentials (email, password_hash, role, active, created_at, updated_at) VALUES (:email, :password_hash, :role, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, cred); err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

// UpdateLastLogin updates the last_login timestamp for a credential.
func (r *AuthRepository) UpdateLastLogin(ctx context.Context, email string, ts time.Time) error {
	const query = `UPDATE credentials SET last_login = $2, updated_at = $3 WHERE email = $1`
	if _, err := r.db.ExecContext(ctx, query, email, ts, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdatePassword updates the stored password hash.
func (r *AuthRepository) UpdatePassword(ctx context.Context, email, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE credentials SET password_hash = $2, updated_at = $3 WHERE email = $1`
	if _, err := r.db.ExecContext(ctx, query, email, passwordHash, updatedAt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// CreateRefreshToken persists a refresh token entry.
func (r *AuthRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, email, token, expires_at, created_at, revoked, revoked_at) VALUES (:id, :email, :token, :expires_at, :created_at, :revoked, :revoked_at)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns a refresh token by token string.
func (r *AuthRepository) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	const query = `SELECT id, email, token, expires_at, created_at, revoked, revoked_at FROM refresh_tokens WHERE token = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a token as revoked.
func (r *AuthRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAccountRefreshTokens revokes all refresh tokens for an account.
func (r *AuthRepository) RevokeAccountRefreshTokens(ctx context.Context, email string) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE email = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, email, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke account refresh tokens: %w", err)
	}
	return nil
}
