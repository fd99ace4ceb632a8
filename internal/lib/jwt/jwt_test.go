package jwt

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
)

var secret = []byte("secret")

func session(expires time.Time) models.Session {
	now := time.Now()
	return models.Session{ID: "sess-1", UserID: "user-1", CreatedAt: now, ExpiresAt: expires}
}

func TestRoundTrip(t *testing.T) {
	token, err := NewToken(session(time.Now().Add(time.Hour)), secret)
	require.NoError(t, err)

	claims, err := ParseToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionID())
	assert.Equal(t, "user-1", claims.UserID)
}

func TestParseRejects(t *testing.T) {
	expired, err := NewToken(session(time.Now().Add(-time.Minute)), secret)
	require.NoError(t, err)

	foreign, err := NewToken(session(time.Now().Add(time.Hour)), []byte("other"))
	require.NoError(t, err)

	none, err := gojwt.NewWithClaims(gojwt.SigningMethodNone, Claims{UserID: "user-1"}).
		SignedString(gojwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noSession, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, Claims{UserID: "user-1"}).SignedString(secret)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":    expired,
		"foreign":    foreign,
		"alg none":   none,
		"no session": noSession,
		"garbage":    "abc.def.ghi",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken(token, secret)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestExpiryTruncatesToSeconds(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 999, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC), Expiry(now, time.Hour))
}
