// Package admin backs the platform console: account moderation and
// platform-wide analytics.
package admin

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/identity"
	"github.com/kelo-pay/kelo/internal/loans"
	"github.com/kelo-pay/kelo/internal/logging"
	"github.com/kelo-pay/kelo/internal/notification"
)

// ErrSelf prevents an admin from suspending or demoting their own account.
var ErrSelf = errors.New("admins cannot change their own status or role")

// Stores counts stores by status.
type Stores interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// LoanBook reports loan portfolio statistics.
type LoanBook interface {
	Stats(ctx context.Context) (loans.Stats, error)
}

// Sales reports gross merchandise value.
type Sales interface {
	GMV(ctx context.Context) (int64, error)
}

// Analytics is the platform overview.
type Analytics struct {
	UsersByRole    map[string]int `json:"users_by_role"`
	TotalUsers     int            `json:"total_users"`
	StoresByStatus map[string]int `json:"stores_by_status"`
	Loans          loans.Stats    `json:"loans"`
	GMV            int64          `json:"gmv"`
}

// Service implements admin operations.
type Service struct {
	users    *identity.Service
	stores   Stores
	loans    LoanBook
	sales    Sales
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService builds the admin service.
func NewService(users *identity.Service, stores Stores, book LoanBook, sales Sales, notifier notification.Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = notification.Nop{}
	}
	return &Service{users: users, stores: stores, loans: book, sales: sales, notifier: notifier, logger: logging.OrDiscard(logger)}
}

func profiles(users []identity.User) []identity.Profile {
	out := make([]identity.Profile, 0, len(users))
	for _, u := range users {
		out = append(out, u.Profile())
	}
	return out
}

// Users pages accounts matching f.
func (s *Service) Users(ctx context.Context, f identity.Filter, p httpx.Page) ([]identity.Profile, int, error) {
	users, total, err := s.users.List(ctx, f, p)
	if err != nil {
		return nil, 0, err
	}
	return profiles(users), total, nil
}

// User returns one account.
func (s *Service) User(ctx context.Context, id string) (identity.Profile, error) {
	u, err := s.users.Get(ctx, id)
	if err != nil {
		return identity.Profile{}, err
	}
	return u.Profile(), nil
}

// SetUserStatus suspends or reactivates an account.
func (s *Service) SetUserStatus(ctx context.Context, adminID, userID, status string) (identity.Profile, error) {
	if adminID == userID {
		return identity.Profile{}, ErrSelf
	}
	u, err := s.users.SetStatus(ctx, userID, status)
	if err != nil {
		return identity.Profile{}, err
	}
	s.logger.Info("user status changed",
		slog.String("admin_id", adminID),
		slog.String("user_id", userID),
		slog.String("status", status),
	)
	title, body := "Account reactivated", "Your account is active again."
	if status == identity.StatusSuspended {
		title, body = "Account suspended", "Your account has been suspended. Contact support for help."
	}
	notification.Deliver(ctx, s.notifier, s.logger, notification.Message{
		UserID: userID, Kind: notification.KindAccountStatus, Title: title, Body: body,
	})
	return u.Profile(), nil
}

// SetUserRole changes an account's role.
func (s *Service) SetUserRole(ctx context.Context, adminID, userID, role string) (identity.Profile, error) {
	if adminID == userID {
		return identity.Profile{}, ErrSelf
	}
	u, err := s.users.SetRole(ctx, userID, role)
	if err != nil {
		return identity.Profile{}, err
	}
	s.logger.Info("user role changed",
		slog.String("admin_id", adminID),
		slog.String("user_id", userID),
		slog.String("role", role),
	)
	return u.Profile(), nil
}

// Analytics aggregates platform metrics.
func (s *Service) Analytics(ctx context.Context) (Analytics, error) {
	var out Analytics
	var err error
	if out.UsersByRole, err = s.users.CountByRole(ctx); err != nil {
		return out, err
	}
	for _, n := range out.UsersByRole {
		out.TotalUsers += n
	}
	if out.StoresByStatus, err = s.stores.CountByStatus(ctx); err != nil {
		return out, err
	}
	if out.Loans, err = s.loans.Stats(ctx); err != nil {
		return out, err
	}
	if out.GMV, err = s.sales.GMV(ctx); err != nil {
		return out, err
	}
	return out, nil
}
