package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Secret: "test-secret-at-least-16-chars",
		Issuer: "stravasync",
		TTL:    time.Hour,
	}
}

func TestSignParseRoundTrip(t *testing.T) {
	cfg := testConfig()

	token, err := Sign(7, cfg)
	require.NoError(t, err)

	claims, err := Parse(token, cfg)
	require.NoError(t, err)
	require.Equal(t, int64(7), claims.UserID)
	require.WithinDuration(t, time.Now().Add(cfg.TTL), claims.ExpiresAt, 5*time.Second)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	cfg := testConfig()
	token, err := Sign(7, cfg)
	require.NoError(t, err)

	other := cfg
	other.Secret = "a-completely-different-secret"
	_, err = Parse(token, other)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	cfg := testConfig()
	token, err := Sign(7, cfg)
	require.NoError(t, err)

	other := cfg
	other.Issuer = "someone-else"
	_, err = Parse(token, other)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	cfg := testConfig()
	cfg.TTL = -time.Minute

	token, err := Sign(7, cfg)
	require.NoError(t, err)

	_, err = Parse(token, cfg)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("not.a.token", testConfig())
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = Parse("", testConfig())
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestMiddlewareInjectsClaims(t *testing.T) {
	cfg := testConfig()
	token, err := Sign(7, cfg)
	require.NoError(t, err)

	var gotUserID int64
	handler := NewMiddleware(cfg).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := FromContext(r.Context())
		require.True(t, ok)
		gotUserID = claims.UserID
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/exports/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(7), gotUserID)
}

func TestMiddlewareRejectsBadRequests(t *testing.T) {
	handler := NewMiddleware(testConfig()).Wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := map[string]string{
		"missing header":  "",
		"not bearer":      "Basic abc123",
		"malformed token": "Bearer nope",
		"empty bearer":    "Bearer ",
		"wrong secret":    "Bearer eyJhbGciOiJIUzI1NiJ9.e30.invalid",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/exports/status", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}
