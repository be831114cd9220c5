package notification

import (
	"context"
	"errors"
	"log/slog"
)

// Notification kinds, also used as AMQP routing keys.
const (
	KindLoanApplied   = "loan.applied"
	KindLoanApproved  = "loan.approved"
	KindLoanRejected  = "loan.rejected"
	KindLoanRepaid    = "loan.repayment"
	KindLoanPaidOff   = "loan.paid"
	KindLoanOverdue   = "loan.overdue"
	KindLoanDefaulted = "loan.defaulted"
	KindPayment       = "payment.completed"
	KindPayout        = "merchant.payout"
	KindSettlement    = "merchant.settlement"
	KindOrderPlaced   = "order.placed"
	KindStoreStatus   = "merchant.store_status"
	KindAccountStatus = "account.status"
	KindRewards       = "staking.rewards"
)

// Message describes a notification payload.
type Message struct {
	UserID string `json:"user_id"`
	Kind   string `json:"kind"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("user_id", message.UserID),
		slog.String("title", message.Title),
	)
	return nil
}

// Fanout delivers each message to every notifier and joins their errors.
type Fanout []Notifier

// Send implements Notifier.
func (f Fanout) Send(ctx context.Context, message Message) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Send(context.Context, Message) error { return nil }

// Deliver sends message and logs, rather than returns, a delivery failure. Money
// movements are never rolled back because a notification could not be sent.
func Deliver(ctx context.Context, n Notifier, logger *slog.Logger, message Message) {
	if n == nil {
		return
	}
	if err := n.Send(ctx, message); err != nil && logger != nil {
		logger.Warn("notification delivery failed",
			slog.String("kind", message.Kind),
			slog.String("user_id", message.UserID),
			slog.Any("error", err),
		)
	}
}
