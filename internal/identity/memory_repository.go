package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kelo-pay/kelo/internal/httpx"
)

type memoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryRepository builds an in-memory user store for tests and local development.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]User)}
}

func (r *memoryRepository) Create(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if user.Email != "" && existing.Email == user.Email {
			return ErrEmailTaken
		}
		if user.WalletAddress != "" && normalizeAddress(existing.WalletAddress) == normalizeAddress(user.WalletAddress) {
			return ErrWalletTaken
		}
	}
	r.users[user.ID] = user
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.Email != "" && user.Email == email {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *memoryRepository) FindByWallet(_ context.Context, address string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.WalletAddress != "" && normalizeAddress(user.WalletAddress) == normalizeAddress(address) {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *memoryRepository) Update(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.users[user.ID]
	if !ok {
		return ErrNotFound
	}
	if user.WalletAddress != "" {
		for id, existing := range r.users {
			if id != user.ID && normalizeAddress(existing.WalletAddress) == normalizeAddress(user.WalletAddress) {
				return ErrWalletTaken
			}
		}
	}
	// Mirrors the SQL update, which leaves credentials and login bookkeeping alone.
	user.Email = stored.Email
	user.PasswordHash = stored.PasswordHash
	user.TokenVersion = stored.TokenVersion
	user.LastLogin = stored.LastLogin
	user.UpdatedAt = time.Now().UTC()
	r.users[user.ID] = user
	return nil
}

func (r *memoryRepository) UpdateTokenVersion(_ context.Context, id string, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	user.TokenVersion = version
	r.users[id] = user
	return nil
}

func (r *memoryRepository) TouchLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	user.LastLogin = &at
	r.users[id] = user
	return nil
}

func (r *memoryRepository) List(_ context.Context, f Filter, p httpx.Page) ([]User, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(f.Search))
	var matched []User
	for _, u := range r.users {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if f.Status != "" && u.Status != f.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(u.FirstName), search) &&
			!strings.Contains(strings.ToLower(u.LastName), search) &&
			!strings.Contains(u.Email, search) {
			continue
		}
		matched = append(matched, u)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return httpx.Window(matched, p), len(matched), nil
}

func (r *memoryRepository) CountByRole(_ context.Context) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]int{}
	for _, u := range r.users {
		out[u.Role]++
	}
	return out, nil
}
