package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	ActionCheckUpdates = "check_updates"
	CapManageOptions   = "manage_options"
)

var ErrMissingSecret = errors.New("nonce secret is not configured")

// SecurityError rejects a manual check without a valid nonce or capability.
type SecurityError struct {
	Reason string
}

func (e *SecurityError) Error() string {
	return "security check failed: " + e.Reason
}

// Claims bind a nonce to an action and to the capabilities of the user it was
// issued for.
type Claims struct {
	jwt.RegisteredClaims
	Action       string   `json:"action"`
	Capabilities []string `json:"caps,omitempty"`
}

func IssueNonce(secret []byte, action, user string, capabilities []string, ttl time.Duration) (string, time.Time, error) {
	if len(secret) == 0 {
		return "", time.Time{}, ErrMissingSecret
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Action:       action,
		Capabilities: capabilities,
	})
	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign nonce: %w", err)
	}
	return tokenString, expiresAt, nil
}

// Verify checks that the nonce is authentic, unexpired, issued for action and that
// its holder has requiredCap. Every failure is a *SecurityError.
func Verify(tokenString string, secret []byte, action, requiredCap string) (*Claims, error) {
	if tokenString == "" {
		return nil, &SecurityError{Reason: "missing nonce"}
	}
	if len(secret) == 0 {
		return nil, &SecurityError{Reason: ErrMissingSecret.Error()}
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &SecurityError{Reason: "nonce expired"}
		}
		return nil, &SecurityError{Reason: "invalid nonce"}
	}
	if !token.Valid {
		return nil, &SecurityError{Reason: "invalid nonce"}
	}
	if claims.Action != action {
		return nil, &SecurityError{Reason: "nonce issued for another action"}
	}
	if requiredCap != "" && !slices.Contains(claims.Capabilities, requiredCap) {
		return nil, &SecurityError{Reason: "insufficient permissions"}
	}
	return claims, nil
}
