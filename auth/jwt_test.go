package auth

import (
	"context"
	"testing"
	"time"

	"collaborative-whiteboard-server/internal/integration"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	assert.NoError(t, err)
	return signed
}

func TestVerifyJWT(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"user_id": "u1",
		"email":   "ada@example.com",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}, testSecret)

	token, err := VerifyJWT(signed, []byte(testSecret))

	assert.NoError(t, err)
	assert.True(t, token.Valid)
}

func TestVerifyJWTWrongSecret(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{"user_id": "u1"}, "other-secret")

	_, err := VerifyJWT(signed, []byte(testSecret))
	assert.Error(t, err)
}

func TestVerifyJWTExpired(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"user_id": "u1",
		"exp":     time.Now().Add(-time.Hour).Unix(),
	}, testSecret)

	_, err := VerifyJWT(signed, []byte(testSecret))
	assert.Error(t, err)
}

func TestUserInfoFromToken(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"user_id": "u1",
		"email":   "ada@example.com",
	}, testSecret)
	token, err := VerifyJWT(signed, []byte(testSecret))
	assert.NoError(t, err)

	info, err := UserInfoFromToken(token)

	assert.NoError(t, err)
	assert.Equal(t, "u1", info.ID)
	assert.Equal(t, "ada@example.com", info.Email)
}

func TestUserInfoFromTokenMissingUserID(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{"email": "ada@example.com"}, testSecret)
	token, err := VerifyJWT(signed, []byte(testSecret))
	assert.NoError(t, err)

	_, err = UserInfoFromToken(token)
	assert.Error(t, err)
}

func TestJWTResolveStep(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"user_id": "u1",
		"email":   "ada@example.com",
	}, testSecret)
	step := JWTResolveStep(testSecret)

	info, err := step(context.Background(), integration.Credentials{
		Authorization: "Bearer " + signed,
	})

	assert.NoError(t, err)
	assert.Equal(t, "u1", info.ID)
}

func TestJWTResolveStepNoAuthorization(t *testing.T) {
	step := JWTResolveStep(testSecret)

	_, err := step(context.Background(), integration.Credentials{})
	assert.Error(t, err)
}
