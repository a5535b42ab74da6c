package gateway

import (
	"context"

	"github.com/n9te9/go-graphql-federation-gateway/federation/authz"
)

type claimsContextKey struct{}

// WithClaims attaches authorization claims to a request context; the JWT
// middleware calls this once a token has been verified, before the request
// reaches the gateway handler.
func WithClaims(ctx context.Context, claims authz.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// claimsFromContext returns the request's claims, or an empty claim set
// (satisfies no scopes) if none were attached, e.g. when the JWT gate is
// disabled.
func claimsFromContext(ctx context.Context) authz.Claims {
	if claims, ok := ctx.Value(claimsContextKey{}).(authz.Claims); ok {
		return claims
	}
	return authz.Claims{}
}
