package token

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokengate/tokengate/internal/domain"
)

var (
	testKey   = []byte("test-secret-key-for-jwt-signing")
	issueTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	alice     = domain.Principal{ID: 42, Username: "alice"}
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testOptions(now time.Time) Options {
	return Options{SigningKey: testKey, Expiry: time.Hour, Issuer: "tokengate-test", Now: fixedClock(now)}
}

func TestIssuer_Issue_VerifiesWithSameKey(t *testing.T) {
	issued, err := NewIssuer(testOptions(issueTime)).Issue(alice)
	require.NoError(t, err)
	require.NotEmpty(t, issued.Token)

	claims, err := NewVerifier(testOptions(issueTime), nil).Verify(context.Background(), issued.Token)
	require.NoError(t, err)

	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "tokengate-test", claims.Issuer)
	assert.Equal(t, issueTime, claims.IssuedAt.Time.UTC())
	assert.Equal(t, issueTime.Add(time.Hour), claims.ExpiresAt.Time.UTC())
	assert.NotEmpty(t, claims.ID)
}

func TestIssuer_Issue_MissingKeyFailsClosed(t *testing.T) {
	issuer := NewIssuer(Options{Expiry: time.Hour})
	assert.False(t, issuer.Configured())

	issued, err := issuer.Issue(alice)
	assert.ErrorIs(t, err, ErrSigningKeyMissing)
	assert.Empty(t, issued.Token)
}

func TestIssuer_DefaultExpiry(t *testing.T) {
	issuer := NewIssuer(Options{SigningKey: testKey, Now: fixedClock(issueTime)})
	assert.Equal(t, 7*24*time.Hour, issuer.Expiry())

	issued, err := issuer.Issue(alice)
	require.NoError(t, err)
	assert.Equal(t, issueTime.Add(DefaultExpiry), issued.Claims.ExpiresAt.Time.UTC())
}

func TestIssuer_TokensDifferAcrossIssuances(t *testing.T) {
	first, err := NewIssuer(testOptions(issueTime)).Issue(alice)
	require.NoError(t, err)
	second, err := NewIssuer(testOptions(issueTime.Add(time.Second))).Issue(alice)
	require.NoError(t, err)
	same, err := NewIssuer(testOptions(issueTime)).Issue(alice)
	require.NoError(t, err)

	assert.NotEqual(t, first.Token, second.Token)
	assert.NotEqual(t, first.Token, same.Token, "jti makes every token unique")
	assert.Equal(t, first.Claims.Subject, second.Claims.Subject)
	assert.Equal(t, first.Claims.Username, second.Claims.Username)
}

func TestVerifier_ExpiryBoundary(t *testing.T) {
	issued, err := NewIssuer(testOptions(issueTime)).Issue(alice)
	require.NoError(t, err)

	tests := []struct {
		name    string
		at      time.Time
		wantErr error
	}{
		{"immediately", issueTime, nil},
		{"just before expiry", issueTime.Add(time.Hour - time.Second), nil},
		{"at expiry", issueTime.Add(time.Hour), ErrExpiredToken},
		{"after expiry", issueTime.Add(time.Hour + time.Second), ErrExpiredToken},
		{"long after expiry", issueTime.Add(30 * 24 * time.Hour), ErrExpiredToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVerifier(testOptions(tt.at), nil).Verify(context.Background(), issued.Token)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestVerifier_RejectsForgedTokens(t *testing.T) {
	valid, err := NewIssuer(testOptions(issueTime)).Issue(alice)
	require.NoError(t, err)

	otherKey := testOptions(issueTime)
	otherKey.SigningKey = []byte("a-completely-different-secret")
	wrongKey, err := NewIssuer(otherKey).Issue(alice)
	require.NoError(t, err)

	otherIssuer := testOptions(issueTime)
	otherIssuer.Issuer = "someone-else"
	wrongIssuer, err := NewIssuer(otherIssuer).Issue(alice)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, valid.Claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	parts := strings.Split(valid.Token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	noSubject := valid.Claims
	noSubject.Subject = ""
	missingSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, noSubject).SignedString(testKey)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not-a-jwt-token"},
		{"malformed JWT", "header.payload.signature"},
		{"wrong secret", wrongKey.Token},
		{"wrong issuer", wrongIssuer.Token},
		{"alg none", none},
		{"tampered signature", tampered},
		{"missing subject", missingSub},
	}

	verifier := NewVerifier(testOptions(issueTime), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := verifier.Verify(context.Background(), tt.token)
			assert.Error(t, err)
			assert.Nil(t, claims)
		})
	}
}

func TestVerifier_MissingKeyFailsClosed(t *testing.T) {
	issued, err := NewIssuer(testOptions(issueTime)).Issue(alice)
	require.NoError(t, err)

	_, err = NewVerifier(Options{Now: fixedClock(issueTime)}, nil).Verify(context.Background(), issued.Token)
	assert.ErrorIs(t, err, ErrSigningKeyMissing)
}

func TestVerifier_Revoke(t *testing.T) {
	ctx := context.Background()
	now := issueTime
	clock := func() time.Time { return now }

	opts := testOptions(issueTime)
	opts.Now = clock
	issued, err := NewIssuer(opts).Issue(alice)
	require.NoError(t, err)

	denylist := NewMemoryDenylist(clock)
	verifier := NewVerifier(opts, denylist)
	require.True(t, verifier.CanRevoke())

	_, err = verifier.Verify(ctx, issued.Token)
	require.NoError(t, err)

	claims, err := verifier.Revoke(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, issued.Claims.ID, claims.ID)

	_, err = verifier.Verify(ctx, issued.Token)
	assert.ErrorIs(t, err, ErrRevokedToken)

	// Revoking twice is idempotent.
	_, err = verifier.Revoke(ctx, issued.Token)
	assert.NoError(t, err)

	// Other tokens for the same principal are unaffected.
	other, err := NewIssuer(opts).Issue(alice)
	require.NoError(t, err)
	_, err = verifier.Verify(ctx, other.Token)
	assert.NoError(t, err)
}

func TestVerifier_Revoke_WithoutDenylist(t *testing.T) {
	issued, err := NewIssuer(testOptions(issueTime)).Issue(alice)
	require.NoError(t, err)

	verifier := NewVerifier(testOptions(issueTime), nil)
	assert.False(t, verifier.CanRevoke())
	_, err = verifier.Revoke(context.Background(), issued.Token)
	assert.ErrorIs(t, err, ErrRevocationUnsupported)
}

func TestMemoryDenylist_ExpiresEntries(t *testing.T) {
	ctx := context.Background()
	now := issueTime
	d := NewMemoryDenylist(func() time.Time { return now })

	require.NoError(t, d.Revoke(ctx, "a", now.Add(time.Minute)))
	require.NoError(t, d.Revoke(ctx, "stale", now.Add(-time.Minute)))
	assert.Equal(t, 1, d.Len(), "already expired tokens are not tracked")

	revoked, err := d.IsRevoked(ctx, "a")
	require.NoError(t, err)
	assert.True(t, revoked)

	now = now.Add(2 * time.Minute)
	revoked, err = d.IsRevoked(ctx, "a")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, d.Revoke(ctx, "b", now.Add(time.Minute)))
	assert.Equal(t, 1, d.Len(), "expired entries are pruned on write")
}
