package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrUserExists         = errors.New("user already exists")
)

// UserStore is the persistence the auth service needs. Both the gorm and the
// SQLite repositories satisfy it.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	Ping(ctx context.Context) error
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	Issue(subject string, extra map[string]string) (string, time.Time, error)
	TTL() time.Duration
}

// Token is the login response.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type AuthService struct {
	store   UserStore
	issuer  TokenIssuer
	cost    int
	compare func(hash, password []byte) error
	logger  *slog.Logger

	// Compared against when the user is unknown so a miss costs as much as
	// a wrong password.
	dummyOnce sync.Once
	dummyHash []byte
}

func NewAuthService(store UserStore, issuer TokenIssuer, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		store:  store,
		issuer: issuer,
		cost:    bcrypt.DefaultCost,
		compare: bcrypt.CompareHashAndPassword,
		logger:  logger.With("component", "auth-service"),
	}
}

// WithHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (s *AuthService) WithHashCost(cost int) *AuthService {
	s.cost = cost
	return s
}

// Register creates a user with a hashed password.
func (s *AuthService) Register(ctx context.Context, username, password, email, role string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}

	existingUser, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existingUser != nil {
		return nil, ErrUserExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	if role == "" {
		role = models.RoleUser
	}
	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
		Role:         role,
		IsActive:     true,
	}

	if err := s.store.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// EnsureUser registers the user unless one with that username exists. It is
// used to seed the bootstrap account at startup.
func (s *AuthService) EnsureUser(ctx context.Context, username, password, email, role string) (bool, error) {
	_, err := s.Register(ctx, username, password, email, role)
	if errors.Is(err, ErrUserExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to seed user %s: %w", username, err)
	}
	s.logger.Info("Seeded user", "username", username, "role", role)
	return true, nil
}

// Authenticates a user and returns an access token
func (s *AuthService) Login(ctx context.Context, username, password string) (*Token, error) {
	user, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		_ = s.compare(s.unknownUserHash(), []byte(password))
		return nil, ErrInvalidCredentials
	}

	if err := s.compare([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	accessToken, _, err := s.issuer.Issue(user.Username, map[string]string{
		"role":    user.Role,
		"user_id": user.ID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &Token{
		AccessToken: accessToken,
		TokenType:   "bearer",
		ExpiresIn:   int(s.issuer.TTL().Seconds()),
	}, nil
}

func (s *AuthService) unknownUserHash() []byte {
	s.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("unknown-user"), s.cost)
		if err != nil {
			s.logger.Error("Failed to build placeholder hash", "error", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// GetUser returns the user named by a token subject, or nil.
func (s *AuthService) GetUser(ctx context.Context, username string) (*models.User, error) {
	return s.store.FindByUsername(ctx, username)
}

func (s *AuthService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
