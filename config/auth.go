package config

import (
	"fmt"
	"strings"
	"time"
)

// AuthMode represents the authentication mode for the application.
type AuthMode string

const (
	// AuthModeSession validates session cookies against the Redis session store.
	AuthModeSession AuthMode = "session"
	// AuthModeMock uses a fixed development identity (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch v {
	case "session", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: session, mock)", v)
	}
}

// DevAuthConfig controls the mock/dev authentication identity.
// Used when AUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	UserID string `env:"USER_ID" envDefault:"dev-user"`
	Email  string `env:"EMAIL"   envDefault:"dev@example.com"`
	Role   string `env:"ROLE"    envDefault:"admin"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which authentication provider to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"session"`

	// SessionTTL is how long a session stays valid after creation.
	SessionTTL time.Duration `env:"AUTH_SESSION_TTL" envDefault:"24h"`

	// CookieName is the name of the session cookie.
	CookieName string `env:"AUTH_COOKIE_NAME" envDefault:"mt_session"`

	// DevAuth configuration (used when Mode=mock).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`
}
