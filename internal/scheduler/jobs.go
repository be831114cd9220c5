package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/kelo-pay/kelo/internal/loans"
	"github.com/kelo-pay/kelo/internal/logging"
	"github.com/kelo-pay/kelo/internal/settlement"
	"github.com/kelo-pay/kelo/internal/staking"
)

const (
	JobOverdue    = "loan_overdue_sweep"
	JobSettlement = "merchant_settlement"
	JobRewards    = "staking_rewards"
)

type OverdueSweeper interface {
	MarkOverdue(ctx context.Context, now time.Time) (loans.OverdueReport, error)
}

type Settler interface {
	Run(ctx context.Context, periodEnd time.Time) (settlement.Report, error)
}

type RewardAccruer interface {
	AccrueRewards(ctx context.Context, now time.Time) (staking.AccrualReport, error)
}

// Schedules holds the cron expression of each job.
type Schedules struct {
	Overdue    string
	Settlement string
	Rewards    string
}

// Jobs builds the platform's background jobs.
func Jobs(sched Schedules, sweeper OverdueSweeper, settler Settler, accruer RewardAccruer, logger *slog.Logger) []Job {
	logger = logging.OrDiscard(logger)
	return []Job{
		{
			Name:     JobOverdue,
			Schedule: sched.Overdue,
			Run: func(ctx context.Context) error {
				report, err := sweeper.MarkOverdue(ctx, time.Now())
				if err != nil {
					return err
				}
				logger.Info("overdue sweep finished", "overdue", report.Overdue, "defaulted", report.Defaulted)
				return nil
			},
		},
		{
			Name:     JobSettlement,
			Schedule: sched.Settlement,
			Run: func(ctx context.Context) error {
				report, err := settler.Run(ctx, time.Time{})
				if err != nil {
					return err
				}
				logger.Info("settlement run finished",
					"settled", report.Settled, "skipped", report.Skipped, "failed", report.Failed, "paid_out", report.PaidOut)
				return nil
			},
		},
		{
			Name:     JobRewards,
			Schedule: sched.Rewards,
			Run: func(ctx context.Context) error {
				_, err := accruer.AccrueRewards(ctx, time.Now())
				return err
			},
		},
	}
}
