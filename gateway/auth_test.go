package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signTestToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func TestJWTGate_MissingHeader(t *testing.T) {
	gate := newJWTGate(JWTSetting{Enable: true, Secret: "secret"})

	var called bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	w := httptest.NewRecorder()
	gate.Middleware(next).ServeHTTP(w, req)

	if called {
		t.Fatal("handler should not run without an Authorization header")
	}
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestJWTGate_MalformedHeader(t *testing.T) {
	gate := newJWTGate(JWTSetting{Enable: true, Secret: "secret"})

	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	req.Header.Set("Authorization", "Basic not-a-bearer-token")
	w := httptest.NewRecorder()
	gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run on a malformed header")
	})).ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestJWTGate_InvalidToken(t *testing.T) {
	gate := newJWTGate(JWTSetting{Enable: true, Secret: "secret"})

	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-jwt")
	w := httptest.NewRecorder()
	gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run on an invalid token")
	})).ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestJWTGate_ValidTokenAttachesClaims(t *testing.T) {
	gate := newJWTGate(JWTSetting{Secret: "secret", ScopesClaim: "scope"})

	token := signTestToken(t, "secret", jwt.MapClaims{
		"sub":   "user-1",
		"scope": "read:products write:reviews",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	var seenScopes map[string]bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenScopes = claimsFromContext(r.Context()).Scopes
	})

	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	gate.Middleware(next).ServeHTTP(w, req)

	if w.Code != 0 && w.Code != http.StatusOK {
		t.Fatalf("expected the wrapped handler to run, got status %d", w.Code)
	}
	if !seenScopes["read:products"] || !seenScopes["write:reviews"] {
		t.Fatalf("expected both scopes to be attached, got %v", seenScopes)
	}
}

func TestJWTGate_ValidTokenJSONArrayScopes(t *testing.T) {
	gate := newJWTGate(JWTSetting{Secret: "secret", ScopesClaim: "scope"})

	token := signTestToken(t, "secret", jwt.MapClaims{
		"scope": []interface{}{"read:products", "read:reviews"},
	})

	var seenScopes map[string]bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenScopes = claimsFromContext(r.Context()).Scopes
	})

	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	gate.Middleware(next).ServeHTTP(w, req)

	if !seenScopes["read:products"] || !seenScopes["read:reviews"] {
		t.Fatalf("expected both scopes to be attached, got %v", seenScopes)
	}
}

func TestJWTGate_WrongSigningSecretRejected(t *testing.T) {
	gate := newJWTGate(JWTSetting{Secret: "correct-secret"})

	token := signTestToken(t, "wrong-secret", jwt.MapClaims{"sub": "user-1"})

	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run when signature verification fails")
	})).ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestWrapJWT_Disabled(t *testing.T) {
	var called bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	w := httptest.NewRecorder()
	WrapJWT(next, JWTSetting{Enable: false}).ServeHTTP(w, req)

	if !called {
		t.Fatal("expected the wrapped handler to run when JWT is disabled")
	}
}
