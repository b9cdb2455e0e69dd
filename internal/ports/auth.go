// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service.
package ports

import (
	"context"

	domainauth "github.com/mobiletester/mt-api/internal/domain/auth"
)

// SessionStore persists and retrieves user sessions.
type SessionStore interface {
	Save(ctx context.Context, sess domainauth.Session) error
	Get(ctx context.Context, id string) (domainauth.Session, error)
	Delete(ctx context.Context, id string) error
}

// SessionIssuer mints sessions outside a real login flow. Session issuance
// against an identity provider lives in a separate system; this port exists
// for development and test environments that run without one.
type SessionIssuer interface {
	Issue(ctx context.Context) (domainauth.Session, error)
}
