package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of every reviewer token.
const Issuer = "reviewchain"

// TokenService signs and validates reviewer tokens
type TokenService struct {
	secretKey []byte

	// TokenDuration is how long an issued token stays valid. Default: 7 days
	TokenDuration time.Duration

	now func() time.Time
}

// ReviewerClaims represents the claims in a reviewer token. The subject is
// the reviewer id.
type ReviewerClaims struct {
	jwt.RegisteredClaims
}

// NewTokenService creates a new token service
func NewTokenService(secretKey string) *TokenService {
	return &TokenService{
		secretKey:     []byte(secretKey),
		TokenDuration: 7 * 24 * time.Hour,
		now:           time.Now,
	}
}

// IssueReviewerToken creates an HS256 token for reviewerID
func (ts *TokenService) IssueReviewerToken(reviewerID string) (string, time.Time, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return "", time.Time{}, errors.New("reviewer id is required")
	}

	now := ts.now()
	expiresAt := now.Add(ts.TokenDuration)
	claims := &ReviewerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   reviewerID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign JWT: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a reviewer token and returns the reviewer id
func (ts *TokenService) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ReviewerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secretKey, nil
	},
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ts.now),
	)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*ReviewerClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}
