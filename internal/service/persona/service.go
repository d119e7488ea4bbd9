// Package persona issues and redeems single-use persona login tokens used to sign in as
// test identities.
package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"studyhub/internal/auth"
	"studyhub/internal/metrics"
	"studyhub/internal/models"
	"studyhub/internal/service/account"
)

const DefaultTTL = 24 * time.Hour

var (
	ErrDisabled     = errors.New("persona login is disabled in production")
	ErrMissingToken = errors.New("token is required")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpired      = errors.New("token expired")
	ErrAlreadyUsed  = errors.New("token already used")
	ErrUserNotFound = errors.New("persona user not found")
)

// UserLookup resolves the identity behind a token.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// LinkMinter is the identity provider call that produces a one-time login link.
type LinkMinter interface {
	GenerateMagicLink(ctx context.Context, email, redirectTo string) (string, error)
}

type Options struct {
	// Production disables redemption entirely.
	Production bool
	Logger     *zap.Logger
	Now        func() time.Time
}

type Service struct {
	store      *Store
	users      UserLookup
	links      LinkMinter
	production bool
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(store *Store, users UserLookup, links LinkMinter, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:      store,
		users:      users,
		links:      links,
		production: opts.Production,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// Issue mints a token for an existing user. ttl <= 0 means DefaultTTL.
func (s *Service) Issue(ctx context.Context, userID int64, role models.Role, ttl time.Duration) (*models.PersonaToken, error) {
	if !role.Valid() {
		return nil, account.ErrInvalidRole
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		if errors.Is(err, account.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	token, err := auth.GenerateToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	tok := &models.PersonaToken{
		Token:     token,
		UserID:    userID,
		Role:      role,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.store.Insert(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// Redeem burns the token and returns the identity provider's login link, which lands the
// browser on the dashboard for the token's role. The token is consumed before the link is
// minted, so a provider failure still leaves it used.
func (s *Service) Redeem(ctx context.Context, token string) (string, error) {
	link, err := s.redeem(ctx, strings.TrimSpace(token))
	metrics.PersonaRedemptions.WithLabelValues(outcome(err)).Inc()
	return link, err
}

func (s *Service) redeem(ctx context.Context, token string) (string, error) {
	if s.production {
		return "", ErrDisabled
	}
	if token == "" {
		return "", ErrMissingToken
	}
	tok, err := s.store.Get(ctx, token)
	if err != nil {
		return "", err
	}
	now := s.now()
	if tok.Expired(now) {
		return "", ErrExpired
	}
	if tok.Used() {
		return "", ErrAlreadyUsed
	}
	if err := s.store.MarkUsed(ctx, token, now); err != nil {
		return "", err
	}

	user, err := s.users.GetUser(ctx, tok.UserID)
	if err != nil {
		if errors.Is(err, account.ErrUserNotFound) {
			s.logger.Error("persona token points at missing user", zap.Int64("user_id", tok.UserID))
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("resolve persona user: %w", err)
	}
	link, err := s.links.GenerateMagicLink(ctx, user.Email, "/"+string(tok.Role))
	if err != nil {
		return "", fmt.Errorf("mint login link: %w", err)
	}
	s.logger.Info("persona token redeemed",
		zap.Int64("user_id", user.ID),
		zap.String("role", string(tok.Role)),
	)
	return link, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDisabled):
		return "disabled"
	case errors.Is(err, ErrMissingToken):
		return "missing"
	case errors.Is(err, ErrInvalidToken):
		return "invalid"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyUsed):
		return "used"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	default:
		return "error"
	}
}
