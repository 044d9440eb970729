package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "test-secret"

func newTestAuth(t *testing.T) *Auth {
	t.Helper()
	t.Setenv(envAuthTestMode, "1")
	t.Setenv(envTestJWTSecret, testSecret)
	return NewAuth(nil, "", "")
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestUserIDFromAuthHeader(t *testing.T) {
	a := newTestAuth(t)
	token := signedToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	})

	got, err := a.UserIDFromAuthHeader("Bearer " + token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "user-1" {
		t.Fatalf("expected user-1, got %s", got)
	}
}

func TestUserIDFromAuthHeaderRejectsExpiredToken(t *testing.T) {
	a := newTestAuth(t)
	token := signedToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-2 * time.Hour).Unix(),
		"iat": time.Now().Add(-3 * time.Hour).Unix(),
	})

	if _, err := a.UserIDFromAuthHeader("Bearer " + token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestUserIDFromAuthHeaderRejectsMissingSub(t *testing.T) {
	a := newTestAuth(t)
	token := signedToken(t, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := a.UserIDFromAuthHeader("Bearer " + token); err == nil {
		t.Fatal("expected token without sub to be rejected")
	}
}

func TestUserIDFromAuthHeaderChecksAudience(t *testing.T) {
	t.Setenv(envAuthTestMode, "1")
	t.Setenv(envTestJWTSecret, testSecret)
	a := NewAuth(nil, "fieldtask", "")

	token := signedToken(t, jwt.MapClaims{
		"sub": "user-1",
		"aud": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := a.UserIDFromAuthHeader("Bearer " + token); err == nil {
		t.Fatal("expected audience mismatch to be rejected")
	}

	token = signedToken(t, jwt.MapClaims{
		"sub": "user-1",
		"aud": "fieldtask",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := a.UserIDFromAuthHeader("Bearer " + token); err != nil {
		t.Fatalf("expected matching audience to pass, got %v", err)
	}
}

func TestBearerTokenFromHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer a.b.c", want: "a.b.c"},
		{name: "surroundingSpaces", header: "  Bearer a.b.c  ", want: "a.b.c"},
		{name: "empty", header: "", wantErr: true},
		{name: "noPrefix", header: "a.b.c", wantErr: true},
		{name: "wrongScheme", header: "Basic a.b.c", wantErr: true},
		{name: "notAJWT", header: "Bearer abc", wantErr: true},
		{name: "tooManySegments", header: "Bearer a.b.c.d", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bearerTokenFromHeader(tt.header)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error for %q", tt.header)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
