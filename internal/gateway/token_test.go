package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sisbm/fleetsync/internal/common"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "operador", "exp": exp.Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("segredo"))
	require.NoError(t, err)
	return token
}

func TestStaticTokenProvider(t *testing.T) {
	ctx := context.Background()

	tok, err := NewStaticTokenProvider("abc").Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = NewStaticTokenProvider("").Token(ctx)
	require.ErrorIs(t, err, common.ErrNoToken)
}

func TestJWTTokenProvider_Valid(t *testing.T) {
	raw := signedToken(t, time.Now().Add(time.Hour))

	tok, err := NewJWTTokenProvider(raw).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, raw, tok)
}

func TestJWTTokenProvider_Expired(t *testing.T) {
	raw := signedToken(t, time.Now().Add(-time.Minute))

	_, err := NewJWTTokenProvider(raw).Token(context.Background())
	require.ErrorIs(t, err, common.ErrTokenExpired)
	require.ErrorIs(t, err, common.ErrNoToken, "expiry heals with a new login, queued work must wait for it")
	assert.True(t, Retryable(err))
}

func TestJWTTokenProvider_Malformed(t *testing.T) {
	_, err := NewJWTTokenProvider("not-a-jwt").Token(context.Background())
	require.ErrorIs(t, err, common.ErrNoToken)
}

func TestSessionTokenProvider(t *testing.T) {
	ctx := context.Background()
	p := NewSessionTokenProvider()

	_, err := p.Token(ctx)
	require.ErrorIs(t, err, common.ErrNoToken, "empty session hands out no token")
	assert.True(t, Retryable(err), "waiting for login must not drop queued work")
	assert.False(t, p.HasToken())

	// opaque token passes through untouched
	p.Set("opaque-token")
	assert.True(t, p.HasToken())
	tok, err := p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", tok)

	// JWT-shaped token gets the expiry pre-check
	p.Set(signedToken(t, time.Now().Add(-time.Minute)))
	_, err = p.Token(ctx)
	require.ErrorIs(t, err, common.ErrTokenExpired)

	p.Set(signedToken(t, time.Now().Add(time.Hour)))
	_, err = p.Token(ctx)
	require.NoError(t, err)

	// logout
	p.Set("")
	assert.False(t, p.HasToken())
	_, err = p.Token(ctx)
	require.ErrorIs(t, err, common.ErrNoToken)
}
