package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/jobmato-assistant/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Reasons reported by AuthError.
const (
	ReasonMissing          = "missing"
	ReasonMalformed        = "malformed"
	ReasonExpired          = "expired"
	ReasonInvalidSignature = "invalid-signature"
	ReasonInvalidClaims    = "invalid-claims"
)

// AuthError is returned when a credential is rejected.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (%s): %v", e.Reason, e.Err)
	}
	return "authentication failed (" + e.Reason + ")"
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ReasonOf returns the AuthError reason of err, or "" for other errors.
func ReasonOf(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Reason
	}
	return ""
}

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
	now    func() time.Time
}

// NewAuthenticator creates an authenticator for the shared secret.
func NewAuthenticator(secret string) *Authenticator {
	a := &Authenticator{secret: []byte(secret), now: time.Now}
	a.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
	)
	return a
}

// Authenticate validates a raw token and returns its identity.
func (a *Authenticator) Authenticate(raw string) (domain.AuthClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.AuthClaims{}, &AuthError{Reason: ReasonMissing}
	}

	claims := jwt.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return domain.AuthClaims{}, &AuthError{Reason: classify(err), Err: err}
	}

	userID := firstString(claims, "sub", "id", "userId")
	if userID == "" {
		return domain.AuthClaims{}, &AuthError{Reason: ReasonInvalidClaims, Err: errors.New("token carries no user identity")}
	}

	out := domain.AuthClaims{
		UserID: userID,
		Email:  firstString(claims, "email"),
		Name:   firstString(claims, "name"),
		Token:  raw,
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

func classify(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ReasonInvalidSignature
	default:
		return ReasonInvalidClaims
	}
}

func firstString(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		switch v := claims[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// Sign issues a token for the given identity. Used by tests and local tooling.
func (a *Authenticator) Sign(c domain.AuthClaims, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"sub": c.UserID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if c.Email != "" {
		claims["email"] = c.Email
	}
	if c.Name != "" {
		claims["name"] = c.Name
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
