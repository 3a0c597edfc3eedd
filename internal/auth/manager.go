// Package auth handles admin API authentication and authorization.
package auth

import (
	"crypto/rand"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Manager issues and validates JWT tokens for admin API users.
type Manager struct {
	jwtSecret string
	tokenTTL  time.Duration

	mu        sync.RWMutex
	users     map[string]*User  // userID -> User
	passwords map[string]string // userID -> password hash
	roles     map[string]Role   // roleName -> Role
}

// NewManager creates an auth manager. An empty jwtSecret gets a random
// session-only secret; tokens then stop validating across restarts.
func NewManager(jwtSecret string) *Manager {
	if jwtSecret == "" {
		jwtSecret = generateRandomSecret(32)
		log.Printf("[auth] generated random JWT secret for session (not persistent)")
	}

	m := &Manager{
		jwtSecret: jwtSecret,
		tokenTTL:  24 * time.Hour,
		users:     make(map[string]*User),
		passwords: make(map[string]string),
		roles:     make(map[string]Role),
	}

	for roleName, role := range PreDefinedRoles {
		m.roles[roleName] = role
	}

	// Default admin account (password: admin). Change it on first use.
	adminUser := &User{
		ID:        "user-admin",
		Username:  "admin",
		Role:      "admin",
		IsActive:  true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.users[adminUser.ID] = adminUser
	passwordHash, _ := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
	m.passwords[adminUser.ID] = string(passwordHash)

	return m
}

// Login authenticates a user and returns a token.
func (m *Manager) Login(username, password string) (*LoginResponse, error) {
	m.mu.RLock()
	var user *User
	for _, u := range m.users {
		if u.Username == username && u.IsActive {
			user = u
			break
		}
	}
	var passwordHash string
	if user != nil {
		passwordHash = m.passwords[user.ID]
	}
	m.mu.RUnlock()

	if user == nil || passwordHash == "" {
		return nil, fmt.Errorf("invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid username or password")
	}

	token, err := m.GenerateToken(user)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		Token:     token,
		ExpiresIn: int64(m.tokenTTL.Seconds()),
		User:      *user,
	}, nil
}

// GenerateToken creates a JWT token for a user.
func (m *Manager) GenerateToken(user *User) (string, error) {
	m.mu.RLock()
	role, exists := m.roles[user.Role]
	m.mu.RUnlock()
	if !exists {
		return "", fmt.Errorf("unknown role: %s", user.Role)
	}

	now := time.Now()
	claims := &Claims{
		UserID:      user.ID,
		Username:    user.Username,
		Role:        user.Role,
		Permissions: role.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "chorus",
			Subject:   user.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.jwtSecret))
}

// ValidateToken validates a JWT token and returns its claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// ChangePassword changes a user's password after verifying the old one.
func (m *Manager) ChangePassword(userID, oldPassword, newPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, exists := m.users[userID]
	if !exists {
		return fmt.Errorf("user not found")
	}
	passwordHash, exists := m.passwords[userID]
	if !exists {
		return fmt.Errorf("password not set")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(oldPassword)); err != nil {
		return fmt.Errorf("incorrect password")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	m.passwords[userID] = string(newHash)
	user.UpdatedAt = time.Now()

	log.Printf("[auth] password changed for user %s", user.Username)
	return nil
}

// CreateUser creates a new user with the given role.
func (m *Manager) CreateUser(username, role, password string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == username {
			return nil, fmt.Errorf("username already exists")
		}
	}
	if _, exists := m.roles[role]; !exists {
		return nil, fmt.Errorf("unknown role: %s", role)
	}

	userID := generateRandomID()
	user := &User{
		ID:        userID,
		Username:  username,
		Role:      role,
		IsActive:  true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	passwordHash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	m.passwords[userID] = string(passwordHash)
	m.users[userID] = user

	log.Printf("[auth] created user %s with role %s", username, role)
	return user, nil
}

// GetUser retrieves a user by ID.
func (m *Manager) GetUser(userID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, exists := m.users[userID]
	if !exists {
		return nil, fmt.Errorf("user not found")
	}
	return user, nil
}

// ListUsers lists all users.
func (m *Manager) ListUsers() []*User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	return users
}

// HasPermission checks a permission against the token's claims.
// "resource:*" and "*:*" wildcards are honored.
func (m *Manager) HasPermission(claims *Claims, permission string) bool {
	for _, p := range claims.Permissions {
		if p == permission || p == "*:*" {
			return true
		}
		parts := strings.Split(permission, ":")
		if len(parts) == 2 && p == parts[0]+":*" {
			return true
		}
	}
	return false
}

// CanManageChannels reports whether the user behind actorID may pin
// personas to channels. Satisfies the router's Authorizer.
func (m *Manager) CanManageChannels(actorID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, exists := m.users[actorID]
	if !exists || !user.IsActive {
		return false
	}
	role, exists := m.roles[user.Role]
	if !exists {
		return false
	}
	for _, p := range role.Permissions {
		if p == "channels:manage" || p == "channels:*" || p == "*:*" {
			return true
		}
	}
	return false
}

func generateRandomID() string {
	return fmt.Sprintf("id-%s", generateRandomSecret(12))
}

func generateRandomSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", bytes)
}
