package auth

import (
	"context"
	"errors"
	"strings"

	"collaborative-whiteboard-server/internal/collab"
	"collaborative-whiteboard-server/internal/integration"

	"github.com/golang-jwt/jwt/v5"
)

// VerifyJWT parses and validates a token against the shared secret.
func VerifyJWT(tokenString string, secret []byte) (*jwt.Token, error) {
	// parse token
	jwtToken, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	})

	if err != nil {
		return nil, err
	}

	// isValid
	if !jwtToken.Valid {
		return nil, errors.New("token invalid")
	}

	return jwtToken, nil
}

// UserInfoFromToken extracts the identity claims carried by a token.
func UserInfoFromToken(token *jwt.Token) (integration.UserInfo, error) {
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return integration.UserInfo{}, errors.New("unexpected claims type")
	}

	userID, _ := claims["user_id"].(string)
	email, _ := claims["email"].(string)
	if userID == "" {
		return integration.UserInfo{}, errors.New("token without user_id claim")
	}

	return integration.UserInfo{ID: userID, Email: email}, nil
}

// JWTResolveStep resolves the handshake bearer token locally, without a
// round trip to the platform.
func JWTResolveStep(secret string) collab.ResolveStep {
	secretBytes := []byte(secret)
	return func(_ context.Context, creds integration.Credentials) (integration.UserInfo, error) {
		if creds.Authorization == "" {
			return integration.UserInfo{}, errors.New("no authorization header")
		}
		token := strings.TrimPrefix(creds.Authorization, "Bearer ")

		parsedToken, err := VerifyJWT(token, secretBytes)
		if err != nil {
			return integration.UserInfo{}, err
		}
		return UserInfoFromToken(parsedToken)
	}
}
