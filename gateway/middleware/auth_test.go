package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "condor-test-secret"

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authHandler(t *testing.T, cfg AuthConfig) (http.Handler, *string) {
	t.Helper()
	var seenToken string
	auth := NewAuthenticator(cfg, nil)
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenToken = WalletToken(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return handler, &seenToken
}

func TestAuthenticatorAcceptsValidToken(t *testing.T) {
	handler, seen := authHandler(t, AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "privy",
	})
	token := signedToken(t, jwt.MapClaims{
		"iss": "privy",
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/v1/drafts/abc", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d", res.Code)
	}
	if *seen != token {
		t.Fatal("wallet token should be forwarded on the context")
	}
}

func TestAuthenticatorRejectsBadTokens(t *testing.T) {
	handler, _ := authHandler(t, AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "privy",
	})

	cases := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"malformed", "Bearer not.a.token"},
		{"wrong scheme", "Basic abc"},
		{"wrong issuer", "Bearer " + signedToken(t, jwt.MapClaims{
			"iss": "someone-else",
			"exp": time.Now().Add(time.Hour).Unix(),
		})},
		{"expired", "Bearer " + signedToken(t, jwt.MapClaims{
			"iss": "privy",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/drafts/abc", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			if res.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", res.Code)
			}
		})
	}
}

func TestAuthenticatorDisabledPassesThrough(t *testing.T) {
	handler, _ := authHandler(t, AuthConfig{Enabled: false})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/drafts/abc", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d", res.Code)
	}
}
