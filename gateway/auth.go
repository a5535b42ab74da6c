package gateway

import (
	"cmp"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/n9te9/go-graphql-federation-gateway/federation/authz"
)

// JWTSetting configures the bearer-token verification gate (config §6 "jwt"
// section). Subscribers of a verified token get their scopes attached to the
// request context for the authorization filter to read.
type JWTSetting struct {
	Enable      bool   `yaml:"enable" default:"false"`
	Secret      string `yaml:"secret"`
	Issuer      string `yaml:"issuer"`
	ScopesClaim string `yaml:"scopes_claim" default:"scope"`
}

// jwtGate verifies bearer tokens and attaches their scopes to the request
// context via WithClaims, ahead of the gateway handler and the authorization
// filter it feeds.
type jwtGate struct {
	secret      []byte
	issuer      string
	scopesClaim string
}

func newJWTGate(settings JWTSetting) *jwtGate {
	return &jwtGate{
		secret:      []byte(settings.Secret),
		issuer:      settings.Issuer,
		scopesClaim: cmp.Or(settings.ScopesClaim, "scope"),
	}
}

// Middleware rejects a request outright if its bearer token is missing or
// fails verification; a lookup failure (no token at all) and a malformed or
// invalid token are distinguished so callers can tell which went wrong.
func (g *jwtGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeGraphQLErrors(w, http.StatusUnauthorized, "JWT_LOOKUP_FAILED", "missing Authorization header")
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			writeGraphQLErrors(w, http.StatusForbidden, "INVALID_JWT_HEADER", "Authorization header must be a Bearer token")
			return
		}

		claims, err := g.verify(token)
		if err != nil {
			writeGraphQLErrors(w, http.StatusForbidden, "INVALID_JWT_HEADER", err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func (g *jwtGate) verify(tokenString string) (authz.Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if g.issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.issuer))
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return g.secret, nil
	}, opts...)
	if err != nil {
		return authz.Claims{}, fmt.Errorf("jwt verification failed: %w", err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return authz.Claims{}, fmt.Errorf("jwt token carries no usable claims")
	}

	return authz.NewClaims(g.scopesFromClaims(mapClaims)), nil
}

// scopesFromClaims reads the configured scopes claim, accepting either a
// single space-separated string (the OAuth2 "scope" convention) or a JSON
// array of strings.
func (g *jwtGate) scopesFromClaims(claims jwt.MapClaims) []string {
	raw, ok := claims[g.scopesClaim]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		scopes := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
		return scopes
	default:
		return nil
	}
}
