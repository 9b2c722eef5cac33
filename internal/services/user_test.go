package services

import (
	"testing"

	"github.com/mallshop/mall-backend/internal/auth"
	"github.com/mallshop/mall-backend/internal/dbtest"
	"github.com/mallshop/mall-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_HashesPasswordAndAssignsRole(t *testing.T) {
	env := newTestEnv(t)

	user, err := env.users.Register(ctx(), models.RegisterRequest{Username: "alice", Password: "pw123456", Email: "alice@example.com"})
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.NotEqual(t, "pw123456", user.Password)
	assert.True(t, auth.CheckPassword(user.Password, "pw123456"))

	admin, err := env.users.Register(ctx(), models.RegisterRequest{Username: "root", Password: "pw", Email: "root@example.com"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.Role)
}

func TestRegister_Duplicates(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.users.Register(ctx(), models.RegisterRequest{Username: "alice", Password: "pw", Email: "alice@example.com"})
	require.NoError(t, err)

	_, err = env.users.Register(ctx(), models.RegisterRequest{Username: "alice", Password: "pw", Email: "other@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateUsername)

	_, err = env.users.Register(ctx(), models.RegisterRequest{Username: "bob", Password: "pw", Email: "alice@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	assert.Equal(t, 1, dbtest.Count(t, env.db, "users", ""))
}

func TestRegister_RequiresFields(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.users.Register(ctx(), models.RegisterRequest{Username: "  ", Password: "pw", Email: "a@example.com"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.users.Register(ctx(), models.RegisterRequest{Username: "a", Email: "a@example.com"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 0, dbtest.Count(t, env.db, "users", ""))
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.users.Register(ctx(), models.RegisterRequest{Username: "alice", Password: "pw123456", Email: "alice@example.com"})
	require.NoError(t, err)

	resp, err := env.users.Login(ctx(), models.LoginRequest{Username: "alice", Password: "pw123456"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.Type)
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, "alice@example.com", resp.Email)
	assert.Equal(t, []string{models.RoleUser}, resp.Roles)

	id, err := env.users.tokens.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)

	resp, err = env.users.Login(ctx(), models.LoginRequest{Username: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Nil(t, resp)

	_, err = env.users.Login(ctx(), models.LoginRequest{Username: "nobody", Password: "pw123456"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_TrimsUsername(t *testing.T) {
	env := newTestEnv(t)
	user, err := env.users.Register(ctx(), models.RegisterRequest{Username: " bob ", Password: "pw123456", Email: "bob@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Username)

	for _, name := range []string{" bob ", "bob", "bob\t"} {
		resp, err := env.users.Login(ctx(), models.LoginRequest{Username: name, Password: "pw123456"})
		require.NoError(t, err, "%q", name)
		assert.Equal(t, "bob", resp.Username)
	}
}

func TestUpdateUser(t *testing.T) {
	env := newTestEnv(t)
	alice, err := env.users.Register(ctx(), models.RegisterRequest{Username: "alice", Password: "old", Email: "alice@example.com"})
	require.NoError(t, err)
	_, err = env.users.Register(ctx(), models.RegisterRequest{Username: "bob", Password: "pw", Email: "bob@example.com"})
	require.NoError(t, err)

	_, err = env.users.UpdateUser(ctx(), alice.ID, models.UpdateUserRequest{Email: "bob@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	updated, err := env.users.UpdateUser(ctx(), alice.ID, models.UpdateUserRequest{Password: "new"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", updated.Email)

	_, err = env.users.Login(ctx(), models.LoginRequest{Username: "alice", Password: "new"})
	require.NoError(t, err)

	updated, err = env.users.UpdateUser(ctx(), alice.ID, models.UpdateUserRequest{Email: "alice@mall.test"})
	require.NoError(t, err)
	assert.Equal(t, "alice@mall.test", updated.Email)

	got, err := env.users.GetUser(ctx(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@mall.test", got.Email)

	_, err = env.users.UpdateUser(ctx(), 999, models.UpdateUserRequest{Email: "x@example.com"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}
