package bootstrap

import (
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/mobiletester/mt-api/config"
	"github.com/mobiletester/mt-api/internal/adapters/devauth"
	redisadapter "github.com/mobiletester/mt-api/internal/adapters/redis"
	domainauth "github.com/mobiletester/mt-api/internal/domain/auth"
	"github.com/mobiletester/mt-api/internal/ports"
)

// AuthConfig contains configuration for the auth components.
type AuthConfig struct {
	Auth        config.AuthConfig
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// AuthComponents groups the session store and optional dev issuer handed to
// the HTTP layer.
type AuthComponents struct {
	Sessions ports.SessionStore
	// Issuer is non-nil only in mock auth mode, where every request is
	// authenticated as a fixed development identity.
	Issuer     ports.SessionIssuer
	CookieName string
}

// BuildAuth creates the session verification components for the configured
// auth mode. Session issuance against a real identity provider happens
// upstream of this service; here we only verify the cookies it sets.
func BuildAuth(cfg AuthConfig) AuthComponents {
	components := AuthComponents{CookieName: cfg.Auth.CookieName}

	if cfg.RedisClient != nil {
		components.Sessions = redisadapter.NewSessionStore(cfg.RedisClient)
	} else if cfg.Logger != nil {
		cfg.Logger.Warn("session verification disabled: redis client not configured", "mode", cfg.Auth.Mode)
	}

	if cfg.Auth.Mode == config.AuthModeMock {
		components.Issuer = buildDevIssuer(cfg)
	}

	return components
}

func buildDevIssuer(cfg AuthConfig) ports.SessionIssuer {
	role := domainauth.RoleUser
	if cfg.Auth.DevAuth.Role == string(domainauth.RoleAdmin) {
		role = domainauth.RoleAdmin
	}

	prov, err := devauth.NewProvider(devauth.Config{
		UserID:     cfg.Auth.DevAuth.UserID,
		Email:      cfg.Auth.DevAuth.Email,
		Role:       role,
		SessionTTL: cfg.Auth.SessionTTL,
	})
	if err != nil {
		if cfg.Logger != nil {
			cfg.Logger.Warn("failed to create dev auth provider, mock auth disabled", "error", err)
		}
		return nil
	}

	if cfg.Logger != nil {
		cfg.Logger.Warn("mock auth enabled, every request runs as a fixed identity",
			"user_id", cfg.Auth.DevAuth.UserID,
			"role", role,
		)
	}
	return prov
}
