package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginAndValidate(t *testing.T) {
	m := NewManager("test-secret")

	resp, err := m.Login("admin", "admin")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "admin", resp.User.Username)

	claims, err := m.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-admin", claims.UserID)
	assert.Contains(t, claims.Permissions, "*:*")
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	m := NewManager("test-secret")

	_, err := m.Login("admin", "wrong")
	assert.Error(t, err)

	_, err = m.Login("nobody", "admin")
	assert.Error(t, err)
}

func TestValidateTokenRejectsOtherSecret(t *testing.T) {
	issuer := NewManager("secret-a")
	verifier := NewManager("secret-b")

	resp, err := issuer.Login("admin", "admin")
	require.NoError(t, err)

	_, err = verifier.ValidateToken(resp.Token)
	assert.Error(t, err)
}

func TestCreateUserAndChangePassword(t *testing.T) {
	m := NewManager("test-secret")

	user, err := m.CreateUser("ops", "operator", "hunter2")
	require.NoError(t, err)

	_, err = m.Login("ops", "hunter2")
	require.NoError(t, err)

	require.NoError(t, m.ChangePassword(user.ID, "hunter2", "hunter3"))
	_, err = m.Login("ops", "hunter2")
	assert.Error(t, err)
	_, err = m.Login("ops", "hunter3")
	assert.NoError(t, err)
}

func TestCreateUserRejectsUnknownRole(t *testing.T) {
	m := NewManager("test-secret")
	_, err := m.CreateUser("x", "wizard", "pw")
	assert.Error(t, err)
}

func TestHasPermission(t *testing.T) {
	m := NewManager("test-secret")

	tests := []struct {
		name       string
		claims     *Claims
		permission string
		want       bool
	}{
		{"exact match", &Claims{Permissions: []string{"personas:read"}}, "personas:read", true},
		{"global wildcard", &Claims{Permissions: []string{"*:*"}}, "anything:at_all", true},
		{"resource wildcard", &Claims{Permissions: []string{"channels:*"}}, "channels:manage", true},
		{"no match", &Claims{Permissions: []string{"personas:read"}}, "personas:write", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.HasPermission(tt.claims, tt.permission))
		})
	}
}

func TestCanManageChannels(t *testing.T) {
	m := NewManager("test-secret")

	operator, err := m.CreateUser("ops", "operator", "pw")
	require.NoError(t, err)
	viewer, err := m.CreateUser("ro", "viewer", "pw")
	require.NoError(t, err)

	assert.True(t, m.CanManageChannels("user-admin"))
	assert.True(t, m.CanManageChannels(operator.ID))
	assert.False(t, m.CanManageChannels(viewer.ID))
	assert.False(t, m.CanManageChannels("ghost"))
}
