package auth

import (
	"testing"
	"time"

	"github.com/BradenHooton/carepath/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-at-least-32-bytes-long!!"

func testUser() *models.User {
	return &models.User{ID: "user-1", Email: "alice@example.com", Role: models.RoleClinician, IsActive: true}
}

func TestIssueSession_RoundTrip(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute, 7*24*time.Hour)

	cred, err := tm.IssueSession(testUser())
	require.NoError(t, err)
	assert.Equal(t, "Bearer", cred.TokenType)
	assert.Equal(t, int64(900), cred.ExpiresIn)
	assert.NotEqual(t, cred.AccessToken, cred.RefreshToken)

	claims, err := tm.ValidateToken(cred.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypeAccess, claims.Type)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleClinician, claims.Role)
	assert.NotEmpty(t, claims.ID)

	refresh, err := tm.ValidateToken(cred.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypeRefresh, refresh.Type)
}

func TestValidateToken_RejectsOtherSecret(t *testing.T) {
	cred, err := NewTokenManager(testSecret, time.Minute, time.Hour).IssueSession(testUser())
	require.NoError(t, err)

	other := NewTokenManager("another-secret-that-is-also-32-bytes!!", time.Minute, time.Hour)
	_, err = other.ValidateToken(cred.AccessToken)
	assert.Error(t, err)
}

func TestValidateToken_RejectsExpired(t *testing.T) {
	tm := NewTokenManager(testSecret, time.Minute, time.Hour)
	issued := time.Now().Add(-2 * time.Hour)
	tm.now = func() time.Time { return issued }

	cred, err := tm.IssueSession(testUser())
	require.NoError(t, err)

	tm.now = time.Now
	_, err = tm.ValidateToken(cred.AccessToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestValidateToken_RejectsNoneAlgorithm(t *testing.T) {
	claims := &models.TokenClaims{Type: models.TokenTypeAccess, UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokenManager(testSecret, time.Minute, time.Hour).ValidateToken(unsigned)
	assert.Error(t, err)
}
