// Package redis provides Redis-backed adapters for session persistence.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/mobiletester/mt-api/internal/domain/auth"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

const defaultKeyPrefix = "mt:session:"

// SessionStore persists sessions in Redis. The Redis TTL mirrors the
// session's ExpiresAt, so expired sessions disappear on their own.
type SessionStore struct {
	client redis.UniversalClient
	prefix string
}

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(client redis.UniversalClient) *SessionStore {
	return NewSessionStoreWithPrefix(client, defaultKeyPrefix)
}

// NewSessionStoreWithPrefix creates a session store with a custom key prefix.
func NewSessionStoreWithPrefix(client redis.UniversalClient, prefix string) *SessionStore {
	return &SessionStore{client: client, prefix: prefix}
}

func (s *SessionStore) key(id string) string {
	return s.prefix + id
}

// Save writes the session with a TTL derived from its expiry. Saving an
// already-expired session is an error.
func (s *SessionStore) Save(ctx context.Context, sess domainauth.Session) error {
	if sess.ID == "" {
		return errors.New("session id cannot be empty")
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return errors.New("session is expired")
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := s.client.Set(ctx, s.key(sess.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get loads the session by id, returning ErrNotFound for missing or expired
// sessions.
func (s *SessionStore) Get(ctx context.Context, id string) (domainauth.Session, error) {
	if id == "" {
		return domainauth.Session{}, ErrNotFound
	}

	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.Session{}, ErrNotFound
		}
		return domainauth.Session{}, fmt.Errorf("redis get: %w", err)
	}

	var sess domainauth.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return domainauth.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}

	// The Redis TTL normally handles expiry; recheck in case of clock skew
	// between writers.
	if sess.Expired(time.Now()) {
		if deleteErr := s.Delete(ctx, id); deleteErr != nil {
			return domainauth.Session{}, fmt.Errorf("cleanup expired session: %w", deleteErr)
		}
		return domainauth.Session{}, ErrNotFound
	}

	return sess, nil
}

// Delete removes the session. Deleting an absent session is not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
