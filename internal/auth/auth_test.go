package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shockx/marketplace/internal/store"
)

func newAuthFixture(t *testing.T) *AuthService {
	t.Helper()
	return NewAuthService(store.NewMemStore(), []byte("test-secret"), time.Hour)
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()
	svc := newAuthFixture(t)

	id, err := svc.Register(ctx, "kicks@example.com", "Kicks", "supersecret")
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	user, err := svc.Store.GetUserByEmail(ctx, "kicks@example.com")
	require.NoError(t, err)
	// password is stored hashed, never in the clear
	assert.NotEqual(t, "supersecret", user.PasswordHash)
}

func TestAuthService_RegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc := newAuthFixture(t)

	tests := []struct {
		name     string
		email    string
		userName string
		password string
	}{
		{"empty email", "", "Kicks", "supersecret"},
		{"empty name", "kicks@example.com", "", "supersecret"},
		{"short password", "kicks@example.com", "Kicks", "short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.email, tt.userName, tt.password)
			assert.Error(t, err)
		})
	}
}

func TestAuthService_LoginRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newAuthFixture(t)

	id, err := svc.Register(ctx, "kicks@example.com", "Kicks", "supersecret")
	require.NoError(t, err)

	token, err := svc.Login(ctx, "kicks@example.com", "supersecret")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	gotID, err := svc.GetUserFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
}

func TestAuthService_LoginWrongPassword(t *testing.T) {
	ctx := context.Background()
	svc := newAuthFixture(t)

	_, err := svc.Register(ctx, "kicks@example.com", "Kicks", "supersecret")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "kicks@example.com", "nottherightone")
	assert.Error(t, err)
}

func TestAuthService_LoginUnknownUser(t *testing.T) {
	ctx := context.Background()
	svc := newAuthFixture(t)

	_, err := svc.Login(ctx, "ghost@example.com", "whatever")
	assert.Error(t, err)
}

func TestAuthService_RejectsForgedToken(t *testing.T) {
	svc := newAuthFixture(t)

	other := NewAuthService(store.NewMemStore(), []byte("other-secret"), time.Hour)
	_, err := other.Register(context.Background(), "kicks@example.com", "Kicks", "supersecret")
	require.NoError(t, err)
	token, err := other.Login(context.Background(), "kicks@example.com", "supersecret")
	require.NoError(t, err)

	_, err = svc.GetUserFromToken(token)
	assert.Error(t, err)
}
