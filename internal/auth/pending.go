package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/altrix0/pcit-crd-sub000/internal/model"
)

// A pending reference is the opaque handle returned when login is
// suspended awaiting OTP verification. It is a short-lived HS256 JWT
// naming the account and purpose; it never carries the code.
type pendingClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

func newPendingRef(secret, issuer, accountID string, purpose model.Purpose, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := pendingClaims{
		Purpose: string(purpose),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parsePendingRef(secret, issuer, tokenString string) (string, model.Purpose, error) {
	token, err := jwt.ParseWithClaims(tokenString, &pendingClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return "", "", err
	}
	claims, ok := token.Claims.(*pendingClaims)
	if !ok || !token.Valid {
		return "", "", jwt.ErrTokenInvalidClaims
	}
	if claims.Subject == "" {
		return "", "", errors.New("pending reference without subject")
	}
	return claims.Subject, model.Purpose(claims.Purpose), nil
}
