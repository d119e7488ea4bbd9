package persona

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"studyhub/internal/models"
)

// Store persists persona tokens. Rows are never deleted.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Insert records a freshly minted token.
func (s *Store) Insert(ctx context.Context, tok *models.PersonaToken) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO persona_tokens (token, user_id, role, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`),
		tok.Token, tok.UserID, tok.Role, tok.CreatedAt, tok.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert persona token: %w", err)
	}
	return nil
}

// Get loads a token; an unknown token yields ErrInvalidToken.
func (s *Store) Get(ctx context.Context, token string) (*models.PersonaToken, error) {
	var tok models.PersonaToken
	err := s.db.GetContext(ctx, &tok, s.db.Rebind(
		`SELECT token, user_id, role, created_at, expires_at, used_at FROM persona_tokens WHERE token = ?`), token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup persona token: %w", err)
	}
	return &tok, nil
}

// MarkUsed burns the token with a single conditional update. When another redemption got
// there first no row matches and ErrAlreadyUsed is returned.
func (s *Store) MarkUsed(ctx context.Context, token string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE persona_tokens SET used_at = ? WHERE token = ? AND used_at IS NULL`), at, token)
	if err != nil {
		return fmt.Errorf("mark persona token used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("persona token rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAlreadyUsed
	}
	return nil
}
