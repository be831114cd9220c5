package identity

import (
	"errors"
	"strings"
	"time"
)

// Roles drive both authorization and the post-login landing page.
const (
	RoleCustomer = "customer"
	RoleMerchant = "merchant"
	RoleAdmin    = "admin"
)

// Account states.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWalletTaken        = errors.New("wallet address already linked to another account")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrSuspended          = errors.New("account suspended")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// Settings are user-facing preferences.
type Settings struct {
	Theme              string `json:"theme"`
	EmailNotifications bool   `json:"email_notifications"`
	PushNotifications  bool   `json:"push_notifications"`
}

// DefaultSettings applies to newly registered users.
func DefaultSettings() Settings {
	return Settings{Theme: "system", EmailNotifications: true, PushNotifications: true}
}

// User represents a registered customer, merchant or administrator.
type User struct {
	ID            string
	Email         string
	Phone         string
	PasswordHash  []byte
	FirstName     string
	LastName      string
	Role          string
	Status        string
	WalletAddress string
	DID           string
	Settings      Settings
	TokenVersion  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastLogin     *time.Time
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Profile is the public view of a user.
type Profile struct {
	ID            string     `json:"id"`
	Email         string     `json:"email,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	Role          string     `json:"role"`
	Status        string     `json:"status"`
	WalletAddress string     `json:"wallet_address,omitempty"`
	DID           string     `json:"did,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
}

// Profile returns the public view of u.
func (u User) Profile() Profile {
	return Profile{
		ID:            u.ID,
		Email:         u.Email,
		Phone:         u.Phone,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Role:          u.Role,
		Status:        u.Status,
		WalletAddress: u.WalletAddress,
		DID:           u.DID,
		CreatedAt:     u.CreatedAt,
		LastLogin:     u.LastLogin,
	}
}

// Filter narrows admin user listings.
type Filter struct {
	Search string
	Role   string
	Status string
}

// RedirectFor returns the landing path for a role.
func RedirectFor(role string) string {
	switch role {
	case RoleAdmin:
		return "/admin"
	case RoleMerchant:
		return "/merchant"
	default:
		return "/dashboard"
	}
}

func validRole(role string) bool {
	return role == RoleCustomer || role == RoleMerchant || role == RoleAdmin
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
