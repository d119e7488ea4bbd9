package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"studyhub/internal/models"
)

var (
	ErrInvalidLink    = errors.New("invalid login link")
	ErrLinkExpired    = errors.New("login link expired")
	ErrLinkUsed       = errors.New("login link already used")
	ErrUnsafeRedirect = errors.New("redirect must be a site-relative path")
)

// CallbackPath is where magic links land; the handler exchanges the link for a session.
const CallbackPath = "/api/auth/callback"

// GenerateMagicLink mints a one-time login link for the account with the given e-mail.
// Visiting the link signs the user in and forwards the browser to redirectTo.
func (s *Service) GenerateMagicLink(ctx context.Context, email, redirectTo string) (string, error) {
	if err := checkRedirect(redirectTo); err != nil {
		return "", err
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("resolve link recipient: %w", err)
	}
	token, err := GenerateToken()
	if err != nil {
		return "", err
	}
	now := s.now()
	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO login_links (token, user_id, redirect_to, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`),
		token, user.ID, redirectTo, now, now.Add(s.linkTTL),
	)
	if err != nil {
		return "", fmt.Errorf("store login link: %w", err)
	}
	return s.baseURL + CallbackPath + "?token=" + url.QueryEscape(token), nil
}

// ConsumeMagicLink burns the link and returns its user and redirect target.
func (s *Service) ConsumeMagicLink(ctx context.Context, token string) (*models.User, string, error) {
	if token == "" {
		return nil, "", ErrInvalidLink
	}
	var link struct {
		UserID     int64      `db:"user_id"`
		RedirectTo string     `db:"redirect_to"`
		ExpiresAt  time.Time  `db:"expires_at"`
		UsedAt     *time.Time `db:"used_at"`
	}
	err := s.db.GetContext(ctx, &link, s.db.Rebind(
		`SELECT user_id, redirect_to, expires_at, used_at FROM login_links WHERE token = ?`), token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrInvalidLink
		}
		return nil, "", fmt.Errorf("lookup login link: %w", err)
	}
	now := s.now()
	if !now.Before(link.ExpiresAt) {
		return nil, "", ErrLinkExpired
	}
	if link.UsedAt != nil {
		return nil, "", ErrLinkUsed
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE login_links SET used_at = ? WHERE token = ? AND used_at IS NULL`), now, token)
	if err != nil {
		return nil, "", fmt.Errorf("consume login link: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, "", fmt.Errorf("login link rows affected: %w", err)
	} else if affected == 0 {
		return nil, "", ErrLinkUsed
	}
	user, err := s.users.GetUser(ctx, link.UserID)
	if err != nil {
		return nil, "", fmt.Errorf("resolve link user: %w", err)
	}
	return user, link.RedirectTo, nil
}

func checkRedirect(target string) error {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, `\`) {
		return ErrUnsafeRedirect
	}
	return nil
}
