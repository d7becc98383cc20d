package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/jobmato-assistant/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signMap(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestAuthenticateValid(t *testing.T) {
	auth := NewAuthenticator(testSecret)
	token, err := auth.Sign(domain.AuthClaims{UserID: "u1", Email: "a@b.c", Name: "Ada"}, time.Hour)
	require.NoError(t, err)

	claims, err := auth.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "a@b.c", claims.Email)
	assert.Equal(t, "Ada", claims.Name)
	assert.Equal(t, token, claims.Token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt, 5*time.Second)
}

func TestAuthenticateUserIDClaimAliases(t *testing.T) {
	auth := NewAuthenticator(testSecret)
	exp := time.Now().Add(time.Hour).Unix()

	token := signMap(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"id": "from-id", "exp": exp})
	claims, err := auth.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "from-id", claims.UserID)

	token = signMap(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"userId": "from-userId", "exp": exp})
	claims, err = auth.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "from-userId", claims.UserID)
}

func TestAuthenticateRejects(t *testing.T) {
	auth := NewAuthenticator(testSecret)
	future := time.Now().Add(time.Hour).Unix()
	past := time.Now().Add(-time.Hour).Unix()

	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{"missing", "", ReasonMissing},
		{"malformed", "not-a-jwt", ReasonMalformed},
		{"expired", signMap(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u1", "exp": past}), ReasonExpired},
		{"wrong secret", signMap(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "u1", "exp": future}), ReasonInvalidSignature},
		{"wrong algorithm", signMap(t, jwt.SigningMethodHS512, []byte(testSecret), jwt.MapClaims{"sub": "u1", "exp": future}), ReasonInvalidSignature},
		{"no exp", signMap(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u1"}), ReasonInvalidClaims},
		{"no identity", signMap(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"exp": future}), ReasonInvalidClaims},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Authenticate(tt.token)
			require.Error(t, err)
			assert.Equal(t, tt.reason, ReasonOf(err))
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=query-token", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "query-token", TokenFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "bearer header-token")
	assert.Equal(t, "header-token", TokenFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.Empty(t, TokenFromRequest(r))
}

func TestMiddleware(t *testing.T) {
	auth := NewAuthenticator(testSecret)
	var seen string
	h := Middleware(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"missing"`)

	token, err := auth.Sign(domain.AuthClaims{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "u1", seen)
}

func TestIPFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", IPFromRequest(r))
}
