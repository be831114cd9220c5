package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kelo-pay/kelo/internal/httpx"
)

const minPasswordLength = 8

// Service manages the user lifecycle.
type Service struct {
	repo Repository
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RegisterInput captures sign-up data.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
	Role      string
}

// Register creates a customer or merchant account with a bcrypt-hashed password.
// Administrators are never self-registered.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	role := in.Role
	if role == "" {
		role = RoleCustomer
	}
	if role != RoleCustomer && role != RoleMerchant {
		return User{}, ErrInvalidRole
	}
	if len(in.Password) < minPasswordLength {
		return User{}, ErrWeakPassword
	}
	email := normalizeEmail(in.Email)
	if email == "" {
		return User{}, fmt.Errorf("email is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	now := time.Now().UTC()
	user := User{
		ID:           uuid.New().String(),
		Email:        email,
		Phone:        strings.TrimSpace(in.Phone),
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         role,
		Status:       StatusActive,
		Settings:     DefaultSettings(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Authenticate verifies an email/password pair and records the login.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	user, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if len(user.PasswordHash) == 0 {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	if user.Status == StatusSuspended {
		return User{}, ErrSuspended
	}
	return s.touch(ctx, user)
}

// FindOrCreateByWallet resolves the account linked to a verified wallet address,
// creating a passwordless customer on first sign-in. created reports whether a new
// account was provisioned.
func (s *Service) FindOrCreateByWallet(ctx context.Context, address string) (user User, created bool, err error) {
	address = strings.TrimSpace(address)
	user, err = s.repo.FindByWallet(ctx, address)
	switch {
	case err == nil:
		if user.Status == StatusSuspended {
			return User{}, false, ErrSuspended
		}
		user, err = s.touch(ctx, user)
		return user, false, err
	case !errors.Is(err, ErrNotFound):
		return User{}, false, err
	}

	now := time.Now().UTC()
	user = User{
		ID:            uuid.New().String(),
		Role:          RoleCustomer,
		Status:        StatusActive,
		WalletAddress: address,
		Settings:      DefaultSettings(),
		CreatedAt:     now,
		UpdatedAt:     now,
		LastLogin:     &now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, false, err
	}
	return user, true, nil
}

func (s *Service) touch(ctx context.Context, user User) (User, error) {
	now := time.Now().UTC()
	if err := s.repo.TouchLogin(ctx, user.ID, now); err != nil {
		return User{}, err
	}
	user.LastLogin = &now
	return user, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// ProfileUpdate carries optional profile changes.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Phone     *string
}

// UpdateProfile applies the non-nil fields of in.
func (s *Service) UpdateProfile(ctx context.Context, id string, in ProfileUpdate) (User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if in.FirstName != nil {
		user.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		user.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Phone != nil {
		user.Phone = strings.TrimSpace(*in.Phone)
	}
	return user, s.repo.Update(ctx, user)
}

// UpdateSettings replaces the user's preferences.
func (s *Service) UpdateSettings(ctx context.Context, id string, settings Settings) (Settings, error) {
	switch settings.Theme {
	case "light", "dark", "system":
	case "":
		settings.Theme = "system"
	default:
		return Settings{}, fmt.Errorf("theme must be light, dark or system")
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return Settings{}, err
	}
	user.Settings = settings
	return settings, s.repo.Update(ctx, user)
}

// LinkWallet records the user's primary wallet address.
func (s *Service) LinkWallet(ctx context.Context, id, address string) error {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if normalizeAddress(user.WalletAddress) == normalizeAddress(address) {
		return nil
	}
	user.WalletAddress = strings.TrimSpace(address)
	return s.repo.Update(ctx, user)
}

// SetDID records the user's decentralized identifier. An empty did clears it.
func (s *Service) SetDID(ctx context.Context, id, did string) error {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	user.DID = did
	return s.repo.Update(ctx, user)
}

// List returns a page of users for the admin console.
func (s *Service) List(ctx context.Context, f Filter, p httpx.Page) ([]User, int, error) {
	return s.repo.List(ctx, f, p)
}

// SetStatus activates or suspends an account. Suspension revokes outstanding tokens.
func (s *Service) SetStatus(ctx context.Context, id, status string) (User, error) {
	if status != StatusActive && status != StatusSuspended {
		return User{}, ErrInvalidStatus
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if user.Status == status {
		return user, nil
	}
	user.Status = status
	if err := s.repo.Update(ctx, user); err != nil {
		return User{}, err
	}
	if status == StatusSuspended {
		user.TokenVersion++
		if err := s.repo.UpdateTokenVersion(ctx, user.ID, user.TokenVersion); err != nil {
			return User{}, err
		}
	}
	return user, nil
}

// SetRole changes an account's role. Existing tokens carry the old role, so they are revoked.
func (s *Service) SetRole(ctx context.Context, id, role string) (User, error) {
	if !validRole(role) {
		return User{}, ErrInvalidRole
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if user.Role == role {
		return user, nil
	}
	user.Role = role
	if err := s.repo.Update(ctx, user); err != nil {
		return User{}, err
	}
	user.TokenVersion++
	return user, s.repo.UpdateTokenVersion(ctx, user.ID, user.TokenVersion)
}

// BumpTokenVersion invalidates every token issued to the user.
func (s *Service) BumpTokenVersion(ctx context.Context, id string) error {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return s.repo.UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
}

// CountByRole returns the number of accounts per role.
func (s *Service) CountByRole(ctx context.Context) (map[string]int, error) {
	return s.repo.CountByRole(ctx)
}
