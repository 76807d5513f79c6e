package auth

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/httpx"
	ohtest "github.com/ohmystock/ohmystock/internal/testing"
)

func newTestService(t *testing.T) (*Service, *clock.Fixed) {
	t.Helper()
	db := ohtest.NewTestDB(t)
	clk := clock.NewFixed(time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC))
	repo := NewRepository(db.Conn(), zerolog.Nop())
	// MinCost keeps the test fast; production uses cost 12.
	return NewService(repo, clk, clock.NewSequenceIDs("usr"), "test-secret", time.Hour, 4, zerolog.Nop()), clk
}

func TestSignupAndLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Signup(ctx, "user@example.com", "password123", "")
	require.NoError(t, err)
	assert.NotEmpty(t, session.UserID)
	assert.NotEmpty(t, session.AccessToken)

	login, err := svc.Login(ctx, "user@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, session.UserID, login.UserID)

	userID, err := svc.VerifyToken(login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, session.UserID, userID)

	me, err := svc.Me(ctx, session.UserID)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", me.Email)
	assert.Equal(t, "ko-KR", me.Locale)
}

func TestSignupDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, "user@example.com", "password123", "")
	require.NoError(t, err)

	_, err = svc.Signup(ctx, "USER@example.com", "password456", "")
	require.Error(t, err)
	var coded *httpx.CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, httpx.CodeEmailAlreadyExists, coded.Code)
}

func TestEmailUniquenessIsCaseInsensitiveAtTheStore(t *testing.T) {
	// The unique constraint itself must ignore case; concurrent signups race
	// past any service-level pre-check.
	db := ohtest.NewTestDB(t)
	repo := NewRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()
	at := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, User{
		ID: "u1", Email: "Trader@Example.com", PasswordHash: "x", Locale: "ko-KR", CreatedAt: at,
	}))
	err := repo.Create(ctx, User{
		ID: "u2", Email: "trader@example.com", PasswordHash: "x", Locale: "ko-KR", CreatedAt: at,
	})
	require.ErrorIs(t, err, domain.ErrConflict)

	user, err := repo.GetByEmail(ctx, "TRADER@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "Trader@Example.com", user.Email, "stored casing is preserved")
}

func TestSignupValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, "not-an-email", "password123", "")
	assert.Error(t, err)

	_, err = svc.Signup(ctx, "user@example.com", "short", "")
	assert.Error(t, err)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, "user@example.com", "password123", "")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "user@example.com", "wrong-password")
	var coded *httpx.CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, httpx.CodeInvalidCredentials, coded.Code)

	// Unknown email yields the same code.
	_, err = svc.Login(ctx, "nobody@example.com", "password123")
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, httpx.CodeInvalidCredentials, coded.Code)
}

func TestTokenExpiry(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	session, err := svc.Signup(ctx, "user@example.com", "password123", "")
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	_, err = svc.VerifyToken(session.AccessToken)
	var coded *httpx.CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, httpx.CodeInvalidToken, coded.Code)
}

func TestVerifyGarbageToken(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.VerifyToken("not.a.token")
	var coded *httpx.CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, httpx.CodeInvalidToken, coded.Code)
}
