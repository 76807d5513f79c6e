package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/httpx"
)

const minPasswordLength = 8

// Service implements signup, login, and token verification with bcrypt
// verifiers and HS256 access tokens.
type Service struct {
	repo       *Repository
	clk        clock.Clock
	ids        clock.IDs
	secret     []byte
	tokenTTL   time.Duration
	bcryptCost int
	log        zerolog.Logger
}

// NewService creates the auth service.
func NewService(repo *Repository, clk clock.Clock, ids clock.IDs, secret string, tokenTTL time.Duration, bcryptCost int, log zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		clk:        clk,
		ids:        ids,
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		bcryptCost: bcryptCost,
		log:        log.With().Str("component", "auth").Logger(),
	}
}

// Signup registers a user and returns a fresh session.
func (s *Service) Signup(ctx context.Context, email, password, locale string) (Session, error) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return Session{}, fmt.Errorf("%w: invalid email address", domain.ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return Session{}, fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidInput, minPasswordLength)
	}
	if locale == "" {
		locale = "ko-KR"
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return Session{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user := User{
		ID:           s.ids.NewID(),
		Email:        email,
		PasswordHash: string(hash),
		Locale:       locale,
		CreatedAt:    s.clk.Now(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return Session{}, httpx.Coded(http.StatusConflict, httpx.CodeEmailAlreadyExists, "email already registered")
		}
		return Session{}, err
	}

	token, err := s.mintToken(user.ID)
	if err != nil {
		return Session{}, err
	}
	s.log.Info().Str("user_id", user.ID).Msg("User signed up")
	return Session{UserID: user.ID, AccessToken: token}, nil
}

// Login verifies credentials and returns a fresh session. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Session{}, invalidCredentials()
		}
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, invalidCredentials()
	}

	token, err := s.mintToken(user.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: user.ID, AccessToken: token}, nil
}

// Me loads the caller's profile.
func (s *Service) Me(ctx context.Context, userID string) (User, error) {
	return s.repo.GetByID(ctx, userID)
}

// VerifyToken validates a bearer token and returns the user id.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.clk.Now))
	if err != nil || !token.Valid {
		return "", httpx.Coded(http.StatusUnauthorized, httpx.CodeInvalidToken, "invalid or expired token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", httpx.Coded(http.StatusUnauthorized, httpx.CodeInvalidToken, "invalid or expired token")
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", httpx.Coded(http.StatusUnauthorized, httpx.CodeInvalidToken, "invalid or expired token")
	}
	return subject, nil
}

func (s *Service) mintToken(userID string) (string, error) {
	now := s.clk.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(s.tokenTTL).Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func invalidCredentials() error {
	return httpx.Coded(http.StatusUnauthorized, httpx.CodeInvalidCredentials, "invalid email or password")
}
