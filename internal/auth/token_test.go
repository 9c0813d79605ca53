package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestTokenService() *TokenService {
	return NewTokenService([]byte("test-secret-key-32bytes-long!!"), "azwatch", time.Hour)
}

func TestIssueAndValidate(t *testing.T) {
	ts := newTestTokenService()

	token, err := ts.Issue("collector-use1", 0, ScopeIngest)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "collector-use1" {
		t.Errorf("Subject = %q, want collector-use1", claims.Subject)
	}
	if claims.Issuer != "azwatch" {
		t.Errorf("Issuer = %q, want azwatch", claims.Issuer)
	}
	if !claims.HasScope(ScopeIngest) {
		t.Errorf("Scope = %q, want %s", claims.Scope, ScopeIngest)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Errorf("lifetime = %s, want 1h", got)
	}
}

func TestValidate_Rejects(t *testing.T) {
	ts := newTestTokenService()
	other := NewTokenService([]byte("another-secret-32-bytes-long!!!"), "azwatch", time.Hour)
	foreign := NewTokenService([]byte("test-secret-key-32bytes-long!!"), "someone-else", time.Hour)

	sign := func(t *testing.T, method jwt.SigningMethod, claims jwt.Claims, key any) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	issue := func(t *testing.T, s *TokenService, ttl time.Duration) string {
		t.Helper()
		tok, err := s.Issue("collector", ttl, ScopeIngest)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		return tok
	}

	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{"wrong secret", func(t *testing.T) string { return issue(t, other, time.Hour) }},
		{"wrong issuer", func(t *testing.T) string { return issue(t, foreign, time.Hour) }},
		{"expired", func(t *testing.T) string { return issue(t, ts, -time.Minute) }},
		{"no expiry", func(t *testing.T) string {
			return sign(t, jwt.SigningMethodHS256, Claims{
				RegisteredClaims: jwt.RegisteredClaims{Issuer: "azwatch", Subject: "collector"},
				Scope:            ScopeIngest,
			}, []byte("test-secret-key-32bytes-long!!"))
		}},
		{"unsigned", func(t *testing.T) string {
			return sign(t, jwt.SigningMethodNone, Claims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    "azwatch",
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				},
			}, jwt.UnsafeAllowNoneSignatureType)
		}},
		{"garbage", func(*testing.T) string { return "not-a-jwt" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ts.Validate(tt.token(t)); err == nil {
				t.Error("Validate succeeded, want error")
			}
		})
	}
}

func TestClaims_HasScope(t *testing.T) {
	c := &Claims{Scope: "zones:read " + ScopeIngest}
	if !c.HasScope(ScopeIngest) {
		t.Errorf("HasScope(%s) = false for %q", ScopeIngest, c.Scope)
	}
	if c.HasScope("samples") {
		t.Error("HasScope matched a prefix")
	}
	if (&Claims{}).HasScope(ScopeIngest) {
		t.Error("empty scope granted ingest")
	}
}
