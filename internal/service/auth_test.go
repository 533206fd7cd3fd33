package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates user and session", func(t *testing.T) {
		env := newTestEnv(t)
		resp, err := env.auth.Register(ctx, &RegisterRequest{
			Username:    "alice",
			Email:       "Alice@X.com",
			Password:    "secret1",
			DisplayName: " Alice ",
		}, ClientInfo{DeviceInfo: "curl/8", IPAddress: "10.0.0.1"})
		require.NoError(t, err)

		assert.NotZero(t, resp.User.ID)
		assert.Equal(t, "alice@x.com", resp.User.Email)
		assert.Equal(t, "Alice", resp.User.DisplayName)
		assert.NotEqual(t, "secret1", resp.User.PasswordHash)
		assert.NotEmpty(t, resp.Token)

		require.Len(t, env.store.sessions, 1)
		sess := env.store.sessions[resp.Token]
		require.NotNil(t, sess)
		assert.Equal(t, resp.User.ID, sess.UserID)
		require.NotNil(t, sess.DeviceInfo)
		assert.Equal(t, "curl/8", *sess.DeviceInfo)
		require.NotNil(t, sess.IPAddress)
		assert.Equal(t, "10.0.0.1", *sess.IPAddress)
	})

	t.Run("duplicate username or email", func(t *testing.T) {
		env := newTestEnv(t)
		env.register(t, "alice")

		tests := []struct {
			name     string
			username string
			email    string
		}{
			{"same username", "alice", "other@x.com"},
			{"same email", "alice2", "alice@x.com"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := env.auth.Register(ctx, &RegisterRequest{
					Username:    tt.username,
					Email:       tt.email,
					Password:    "secret1",
					DisplayName: "Someone",
				}, ClientInfo{})
				assert.ErrorIs(t, err, ErrUserExists)
				assert.ErrorIs(t, err, ErrConflict)
				assert.Equal(t, "User already exists", err.Error())
			})
		}
	})
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	aliceID, _ := env.register(t, "alice")

	tests := []struct {
		name    string
		login   string
		email   string
		pass    string
		wantErr error
	}{
		{"by username", "alice", "", "secret1", nil},
		{"email in username", "alice@x.com", "", "secret1", nil},
		{"by email field", "", "Alice@X.com", "secret1", nil},
		{"wrong password", "alice", "", "secret2", ErrInvalidCredentials},
		{"unknown user", "nobody", "", "secret1", ErrInvalidCredentials},
		{"no identifier", "", "", "secret1", ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &LoginRequest{Username: tt.login, Email: tt.email, Password: tt.pass}
			resp, err := env.auth.Login(ctx, req, ClientInfo{})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, aliceID, resp.User.ID)
			assert.True(t, resp.User.IsOnline)
			assert.NotNil(t, resp.User.LastSeen)
			assert.True(t, env.store.users[aliceID].IsOnline)
		})
	}
}

func TestAuthService_AuthenticateAndLogout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	aliceID, token := env.register(t, "alice")

	claims, err := env.auth.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, formatID(aliceID), claims.UserID)

	_, err = env.auth.Authenticate(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, env.auth.Logout(ctx, claims, token))
	assert.Empty(t, env.store.sessions)
	assert.False(t, env.store.users[aliceID].IsOnline)

	_, err = env.auth.Authenticate(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthService_Authenticate_RedisDownFallsBackToSessions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, token := env.register(t, "alice")
	_, other := env.register(t, "bob")

	// bob's session row is gone but nothing was written to Redis
	delete(env.store.sessions, other)
	env.redis.Close()

	_, err := env.auth.Authenticate(ctx, token)
	assert.NoError(t, err)

	_, err = env.auth.Authenticate(ctx, other)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthService_LogoutWhileRedisDown(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, token := env.register(t, "alice")

	claims, err := env.auth.Authenticate(ctx, token)
	require.NoError(t, err)

	env.redis.Close()
	require.NoError(t, env.auth.Logout(ctx, claims, token))
	assert.Empty(t, env.store.sessions)

	// 吊销未写入 Redis, 恢复后 token 仍然无效
	require.NoError(t, env.redis.Restart())
	_, err = env.auth.Authenticate(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthService_Authenticate_RequiresMatchingSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, token := env.register(t, "alice")

	// a signed token whose session was never recorded
	forged, _, err := env.tokens.GenerateToken("1", "alice", "999999")
	require.NoError(t, err)
	_, err = env.auth.Authenticate(ctx, forged)
	assert.ErrorIs(t, err, ErrUnauthorized)

	noSession, _, err := env.tokens.GenerateToken("1", "alice", "")
	require.NoError(t, err)
	_, err = env.auth.Authenticate(ctx, noSession)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = env.auth.Authenticate(ctx, token)
	assert.NoError(t, err)
}
