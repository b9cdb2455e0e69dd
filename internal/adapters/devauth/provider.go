// Package devauth provides a config-driven session issuer for local development.
package devauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	domainauth "github.com/mobiletester/mt-api/internal/domain/auth"
	"github.com/mobiletester/mt-api/internal/ports"
)

var _ ports.SessionIssuer = (*Provider)(nil)

// Config controls the identity the dev provider hands out.
type Config struct {
	UserID     string
	Email      string
	Role       domainauth.Role // default RoleUser when empty
	SessionTTL time.Duration   // default 8h when zero
}

// Provider implements ports.SessionIssuer with a fixed identity. Every Issue
// call yields a fresh session id so stores and middleware behave exactly as
// they would with real sessions.
type Provider struct {
	cfg Config
}

// NewProvider constructs a dev session issuer from Config.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.UserID == "" {
		return nil, errors.New("dev auth: UserID is required")
	}
	if cfg.Email == "" {
		return nil, errors.New("dev auth: Email is required")
	}
	if cfg.Role == "" {
		cfg.Role = domainauth.RoleUser
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 8 * time.Hour
	}
	return &Provider{cfg: cfg}, nil
}

// Issue returns a new session for the configured identity.
func (p *Provider) Issue(_ context.Context) (domainauth.Session, error) {
	id, err := randomID(24)
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("generate session id: %w", err)
	}
	return domainauth.Session{
		ID:        id,
		UserID:    p.cfg.UserID,
		Email:     p.cfg.Email,
		Role:      p.cfg.Role,
		ExpiresAt: time.Now().Add(p.cfg.SessionTTL),
	}, nil
}

// randomID returns n URL-safe random characters.
func randomID(n int) (string, error) {
	b := make([]byte, (n*3+3)/4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := base64.RawURLEncoding.EncodeToString(b)
	if len(s) < n {
		return s, nil
	}
	return s[:n], nil
}
