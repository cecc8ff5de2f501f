package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidator(t *testing.T) *JWTValidator {
	t.Helper()
	v, err := NewJWTValidator(JWTConfig{
		SigningMethod: "HS256",
		SecretKey:     "test-secret",
		Issuer:        "diagramsync",
		Audience:      []string{"diagramsync-api"},
	})
	require.NoError(t, err)
	return v
}

func TestIssueAndValidate(t *testing.T) {
	issuer := NewJWTIssuer("test-secret", "diagramsync", []string{"diagramsync-api"}, time.Minute)
	validator := newValidator(t)

	token, err := issuer.Issue(Identity{UserID: "u1", DisplayName: "Ada"})
	require.NoError(t, err)

	claims, err := validator.ValidateToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u1", DisplayName: "Ada"}, claims.Identity())
}

func TestValidateToken_Failures(t *testing.T) {
	validator := newValidator(t)

	tests := []struct {
		name    string
		token   func() string
		wantErr error
	}{
		{
			name:    "missing",
			token:   func() string { return "  " },
			wantErr: ErrMissingToken,
		},
		{
			name: "wrong secret",
			token: func() string {
				tok, _ := NewJWTIssuer("other", "diagramsync", []string{"diagramsync-api"}, time.Minute).Issue(Identity{UserID: "u1"})
				return tok
			},
			wantErr: ErrInvalidSignature,
		},
		{
			name: "expired",
			token: func() string {
				tok, _ := NewJWTIssuer("test-secret", "diagramsync", []string{"diagramsync-api"}, -time.Minute).Issue(Identity{UserID: "u1"})
				return tok
			},
			wantErr: ErrExpiredToken,
		},
		{
			name: "wrong issuer",
			token: func() string {
				tok, _ := NewJWTIssuer("test-secret", "someone-else", []string{"diagramsync-api"}, time.Minute).Issue(Identity{UserID: "u1"})
				return tok
			},
			wantErr: ErrInvalidClaims,
		},
		{
			name: "wrong audience",
			token: func() string {
				tok, _ := NewJWTIssuer("test-secret", "diagramsync", []string{"elsewhere"}, time.Minute).Issue(Identity{UserID: "u1"})
				return tok
			},
			wantErr: ErrInvalidClaims,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator.ValidateToken(tt.token())
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestIssue_RequiresUser(t *testing.T) {
	_, err := NewJWTIssuer("s", "", nil, time.Minute).Issue(Identity{})
	assert.ErrorIs(t, err, ErrInvalidClaims)
}

func TestClaimsIdentity_FallsBackToUserID(t *testing.T) {
	c := &Claims{UserID: "u9"}
	assert.Equal(t, "u9", c.Identity().DisplayName)
}

func TestIdentityContext(t *testing.T) {
	_, err := IdentityFromContext(context.Background())
	assert.ErrorIs(t, err, ErrNoIdentity)

	ctx := WithIdentity(context.Background(), Identity{UserID: "u1", DisplayName: "Ada"})
	id, err := IdentityFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ada", id.DisplayName)
}

func TestTokenBucketLimiter(t *testing.T) {
	l := NewTokenBucketLimiter(1, 3)
	defer l.Stop()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "conn")
		require.NoError(t, err)
		assert.True(t, ok, "burst token %d", i)
	}
	ok, _ := l.Allow(ctx, "conn")
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "other")
	assert.True(t, ok, "buckets are per key")

	require.NoError(t, l.Reset(ctx, "conn"))
	ok, _ = l.Allow(ctx, "conn")
	assert.True(t, ok)
}

func TestSlidingWindowLimiter(t *testing.T) {
	l := NewSlidingWindowLimiter(2, 50*time.Millisecond)
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	assert.False(t, ok)

	assert.Eventually(t, func() bool {
		ok, _ := l.Allow(ctx, "k")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestIPRateLimiter(t *testing.T) {
	l := NewIPRateLimiter(1)
	ok, _ := l.Allow(context.Background(), "10.0.0.1")
	assert.True(t, ok)
	ok, _ = l.Allow(context.Background(), "10.0.0.1")
	assert.False(t, ok)
}
