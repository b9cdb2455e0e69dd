package httpx

import (
	"context"

	domainauth "github.com/mobiletester/mt-api/internal/domain/auth"
)

// sessionKey is an unexported context key type to avoid collisions.
type sessionKey struct{}

// SetSessionInContext returns a child context carrying the given session.
// A nil session leaves the context unchanged.
func SetSessionInContext(ctx context.Context, session *domainauth.Session) context.Context {
	if session == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, session)
}

// GetSessionFromContext returns the session from the request context, or nil
// when the request is unauthenticated.
func GetSessionFromContext(ctx context.Context) *domainauth.Session {
	if s, ok := ctx.Value(sessionKey{}).(*domainauth.Session); ok {
		return s
	}
	return nil
}
