package devauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/mobiletester/mt-api/internal/domain/auth"
)

func TestNewProvider_Validation(t *testing.T) {
	_, err := NewProvider(Config{Email: "dev@example.com"})
	assert.Error(t, err)

	_, err = NewProvider(Config{UserID: "dev-user"})
	assert.Error(t, err)
}

func TestProvider_Issue(t *testing.T) {
	p, err := NewProvider(Config{
		UserID: "dev-user",
		Email:  "dev@example.com",
		Role:   domainauth.RoleAdmin,
	})
	require.NoError(t, err)

	sess, err := p.Issue(context.Background())
	require.NoError(t, err)
	assert.Len(t, sess.ID, 24)
	assert.Equal(t, "dev-user", sess.UserID)
	assert.Equal(t, "dev@example.com", sess.Email)
	assert.Equal(t, domainauth.RoleAdmin, sess.Role)
	assert.False(t, sess.Expired(time.Now()))
	assert.WithinDuration(t, time.Now().Add(8*time.Hour), sess.ExpiresAt, time.Minute)

	// Each issue gets its own session id.
	again, err := p.Issue(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, again.ID)
}

func TestProvider_Defaults(t *testing.T) {
	p, err := NewProvider(Config{UserID: "dev-user", Email: "dev@example.com"})
	require.NoError(t, err)

	sess, err := p.Issue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domainauth.RoleUser, sess.Role)
}
