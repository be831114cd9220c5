package loans

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	bpsDivisor = decimal.NewFromInt(10_000)
	twelve     = decimal.NewFromInt(12)
)

// BuildSchedule amortises principal over months at annual interestBps, one
// installment per month from start. Amounts are rounded to minor units and the
// rounding remainder lands on the last installment, so principal parts sum to
// principal and amounts sum to the returned total.
func BuildSchedule(principal int64, interestBps, months int, start time.Time) ([]Installment, int64) {
	if months <= 0 || principal <= 0 {
		return nil, 0
	}
	out := make([]Installment, 0, months)
	p := decimal.NewFromInt(principal)
	rate := decimal.NewFromInt(int64(interestBps)).Div(bpsDivisor).Div(twelve)
	n := decimal.NewFromInt(int64(months))

	var payment decimal.Decimal
	if rate.IsZero() {
		payment = p.Div(n).Floor()
	} else {
		growth := decimal.NewFromInt(1)
		onePlus := rate.Add(decimal.NewFromInt(1))
		for i := 0; i < months; i++ {
			growth = growth.Mul(onePlus)
		}
		payment = p.Mul(rate).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1))).Round(0)
	}

	balance := principal
	var total int64
	for seq := 1; seq <= months; seq++ {
		interest := decimal.NewFromInt(balance).Mul(rate).Round(0).IntPart()
		part := payment.IntPart() - interest
		if seq == months || part > balance {
			part = balance
		}
		if part < 0 {
			part = 0
		}
		balance -= part
		amount := part + interest
		total += amount
		out = append(out, Installment{
			Seq:       seq,
			DueDate:   AddMonths(start, seq),
			Principal: part,
			Interest:  interest,
			Amount:    amount,
			Status:    InstallmentPending,
		})
	}
	return out, total
}

// AddMonths moves t forward by months calendar months, keeping the day of the
// month but clamping it to the last day of a shorter month: Jan 31 plus one
// month is Feb 28 (or 29), not Mar 3.
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}
