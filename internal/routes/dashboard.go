package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/creditscore"
	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/identity"
	"github.com/kelo-pay/kelo/internal/loans"
	"github.com/kelo-pay/kelo/internal/payments"
	"github.com/kelo-pay/kelo/internal/staking"
	"github.com/kelo-pay/kelo/internal/wallet"
)

const dashboardRecentPayments = 5

type dashboardResponse struct {
	User        identity.Profile       `json:"user"`
	Wallet      wallet.Summary         `json:"wallet"`
	ActiveLoans []loans.Loan           `json:"active_loans"`
	Upcoming    []loans.ScheduleItem   `json:"upcoming_payments"`
	CreditScore *creditscore.Score     `json:"credit_score,omitempty"`
	Payments    []payments.Payment     `json:"recent_payments"`
	Staking     []staking.PositionView `json:"staking_positions"`
}

// RegisterDashboardRoute wires GET /dashboard, the customer home screen in a
// single round trip.
func RegisterDashboardRoute(r fiber.Router, svc *Services) {
	r.Get("/dashboard", func(c *fiber.Ctx) error {
		uid, err := httpx.UserID(c)
		if err != nil {
			return err
		}
		ctx := c.UserContext()

		user, err := svc.Identity.Get(ctx, uid)
		if err != nil {
			return identity.HTTPError(err)
		}
		summary, err := svc.Wallets.SummaryFor(ctx, uid)
		if err != nil {
			return err
		}
		active, err := svc.Loans.Active(ctx, uid)
		if err != nil {
			return err
		}
		upcoming, err := svc.Loans.UpcomingSchedule(ctx, uid)
		if err != nil {
			return err
		}
		recent, err := svc.Payments.Recent(ctx, uid, dashboardRecentPayments)
		if err != nil {
			return err
		}
		positions, err := svc.Staking.Positions(ctx, uid)
		if err != nil {
			return err
		}

		resp := dashboardResponse{
			User:        user.Profile(),
			Wallet:      summary,
			ActiveLoans: active,
			Upcoming:    upcoming,
			Payments:    recent,
			Staking:     positions,
		}
		// A scoring failure should not blank the whole screen.
		if score, err := svc.Scores.Calculate(ctx, uid, false); err == nil {
			resp.CreditScore = &score
		} else {
			svc.Logger.Warn("dashboard credit score", "user_id", uid, "error", err)
		}
		return httpx.OK(c, http.StatusOK, resp)
	})
}
