package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sisbm/fleetsync/internal/common"
)

// TokenProvider supplies the bearer token attached to every request.
// A missing or expired token surfaces as ErrNoToken: the request never left
// the client, so queued deliveries wait for a login instead of being
// dropped as server rejections.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider returns a fixed token string.
type StaticTokenProvider struct {
	token string
}

func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

func (p *StaticTokenProvider) Token(ctx context.Context) (string, error) {
	if p.token == "" {
		return "", fmt.Errorf("no token configured: %w", common.ErrNoToken)
	}
	return p.token, nil
}

// JWTTokenProvider wraps a token known to be a JWT and pre-checks its expiry
// claim before handing it out, so an expired session fails fast with
// ErrTokenExpired instead of spending a round trip on a guaranteed 401.
// The failure still wraps ErrNoToken: a fresh login fixes it, so pending
// outbox entries must survive it.
//
// The signature is not verified — only the server can do that; the local
// check reads the exp claim.
type JWTTokenProvider struct {
	token  string
	parser *jwt.Parser
}

func NewJWTTokenProvider(token string) *JWTTokenProvider {
	return &JWTTokenProvider{
		token:  token,
		parser: jwt.NewParser(jwt.WithoutClaimsValidation()),
	}
}

func (p *JWTTokenProvider) Token(ctx context.Context) (string, error) {
	if p.token == "" {
		return "", fmt.Errorf("no token configured: %w", common.ErrNoToken)
	}

	claims := jwt.MapClaims{}
	if _, _, err := p.parser.ParseUnverified(p.token, claims); err != nil {
		return "", fmt.Errorf("malformed token: %w", common.ErrNoToken)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return "", fmt.Errorf("malformed exp claim: %w", common.ErrNoToken)
	}
	if exp != nil && exp.Before(nowFunc()) {
		return "", fmt.Errorf("%w: %w", common.ErrTokenExpired, common.ErrNoToken)
	}
	return p.token, nil
}

// SessionTokenProvider holds a token that can be replaced mid-session, for
// interactive login. Tokens shaped like a JWT get the same local expiry
// pre-check as JWTTokenProvider; opaque tokens are handed out as-is.
type SessionTokenProvider struct {
	mu    sync.RWMutex
	inner TokenProvider
}

func NewSessionTokenProvider() *SessionTokenProvider {
	return &SessionTokenProvider{}
}

// Set replaces the session token. An empty token logs the session out.
func (p *SessionTokenProvider) Set(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case token == "":
		p.inner = nil
	case strings.Count(token, ".") == 2:
		p.inner = NewJWTTokenProvider(token)
	default:
		p.inner = NewStaticTokenProvider(token)
	}
}

// HasToken reports whether a token is set, without checking its validity.
func (p *SessionTokenProvider) HasToken() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.inner != nil
}

func (p *SessionTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.inner == nil {
		return "", fmt.Errorf("no token configured: %w", common.ErrNoToken)
	}
	return p.inner.Token(ctx)
}
