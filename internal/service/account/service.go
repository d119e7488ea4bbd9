package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"studyhub/internal/models"
	"studyhub/internal/storage"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRole        = errors.New("invalid role")
)

// Service handles the user accounts behind sessions, magic links and persona tokens.
type Service struct {
	db *sqlx.DB
}

// NewService builds a new account service.
func NewService(db *sqlx.DB) *Service {
	return &Service{db: db}
}

// NewUser describes an account to create or update.
type NewUser struct {
	Email       string
	DisplayName string
	Role        models.Role
	// Password may be empty for link-only accounts such as personas.
	Password string
}

// CreateUser inserts a new account.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (*models.User, error) {
	email := normalizeEmail(in.Email)
	if email == "" {
		return nil, errors.New("email is required")
	}
	if !in.Role.Valid() {
		return nil, ErrInvalidRole
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	id, err := storage.InsertReturningID(ctx, s.db,
		`INSERT INTO users (email, display_name, role, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		email, strings.TrimSpace(in.DisplayName), in.Role, hash, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &models.User{
		ID:           id,
		Email:        email,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		Role:         in.Role,
		PasswordHash: hash,
		CreatedAt:    now,
	}, nil
}

// UpsertUser updates the account with the same e-mail or creates it. An empty password
// keeps the stored hash.
func (s *Service) UpsertUser(ctx context.Context, in NewUser) (*models.User, error) {
	existing, err := s.GetUserByEmail(ctx, in.Email)
	if errors.Is(err, ErrUserNotFound) {
		return s.CreateUser(ctx, in)
	}
	if err != nil {
		return nil, err
	}
	if !in.Role.Valid() {
		return nil, ErrInvalidRole
	}
	existing.Role = in.Role
	if name := strings.TrimSpace(in.DisplayName); name != "" {
		existing.DisplayName = name
	}
	if in.Password != "" {
		if existing.PasswordHash, err = hashPassword(in.Password); err != nil {
			return nil, err
		}
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE users SET display_name = ?, role = ?, password_hash = ? WHERE id = ?`),
		existing.DisplayName, existing.Role, existing.PasswordHash, existing.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return existing, nil
}

// Authenticate validates credentials and returns the user profile.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	if normalizeEmail(email) == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// GetUser loads a user by id.
func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	if id <= 0 {
		return nil, ErrUserNotFound
	}
	return s.getOne(ctx, `SELECT id, email, display_name, role, password_hash, created_at FROM users WHERE id = ?`, id)
}

// GetUserByEmail loads a user by e-mail, case-insensitively.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrUserNotFound
	}
	return s.getOne(ctx, `SELECT id, email, display_name, role, password_hash, created_at FROM users WHERE email = ?`, email)
}

func (s *Service) getOne(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	var user models.User
	if err := s.db.GetContext(ctx, &user, s.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

func hashPassword(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
