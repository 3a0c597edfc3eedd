package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is an admin API account.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role groups permissions under a name. Permissions use the
// "resource:action" form; "*" wildcards either part.
type Role struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// PreDefinedRoles are the built-in roles.
var PreDefinedRoles = map[string]Role{
	"admin": {
		Name:        "admin",
		Description: "Full access to all resources",
		Permissions: []string{"*:*"},
	},
	"operator": {
		Name:        "operator",
		Description: "Manage personas, aliases, and channel activations",
		Permissions: []string{"personas:*", "aliases:*", "channels:*", "sessions:*", "blackouts:read"},
	},
	"viewer": {
		Name:        "viewer",
		Description: "Read-only access",
		Permissions: []string{"personas:read", "aliases:read", "channels:read", "sessions:read", "blackouts:read"},
	},
}

// Claims are the JWT claims carried by admin API tokens.
type Claims struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// LoginResponse is returned on successful authentication.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	User      User   `json:"user"`
}
