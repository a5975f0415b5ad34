package auth

import (
	"context"
	"testing"
	"time"

	"decant_shop/internal/testutil"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestIssueAndParse(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)
	raw, err := iss.Issue(7, true)
	require.NoError(t, err)

	claims, err := iss.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.True(t, claims.IsAdmin)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestParseRejectsBadTokens(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)

	other, err := NewIssuer("other", time.Hour).Issue(1, false)
	require.NoError(t, err)
	_, err = iss.Parse(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewIssuer("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Issue(1, false)
	require.NoError(t, err)
	_, err = iss.Parse(old)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = iss.Parse(none)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = iss.Parse("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRegisterAndLogin(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, NewIssuer("secret", time.Hour), zaptest.NewLogger(t))
	ctx := context.Background()

	u, token, err := svc.Register(ctx, RegisterInput{Email: " Ana@Example.com ", Password: "secreto", Username: "ana"})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", u.Email)
	assert.NotEqual(t, "secreto", u.PasswordHash)
	assert.NotEmpty(t, token)

	_, _, err = svc.Register(ctx, RegisterInput{Email: "ana@example.com", Password: "secreto", Username: "ana2"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	logged, token, err := svc.Login(ctx, "ANA@example.com", "secreto")
	require.NoError(t, err)
	assert.Equal(t, u.ID, logged.ID)
	assert.NotEmpty(t, token)

	_, _, err = svc.Login(ctx, "ana@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody@example.com", "secreto")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	me, err := svc.Me(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "ana", me.Username)
	_, err = svc.Me(ctx, 999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRegisterValidation(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, NewIssuer("secret", time.Hour), zaptest.NewLogger(t))

	for _, in := range []RegisterInput{
		{Email: "not-an-email", Password: "secreto", Username: "x"},
		{Email: "a@example.com", Password: "123", Username: "x"},
		{Email: "a@example.com", Password: "secreto", Username: "  "},
	} {
		_, _, err := svc.Register(context.Background(), in)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}
