// Package ledger holds the money rules for a patient account: how payments
// add up against the amount due and how the account status moves between
// debtor, paid and treated. Everything here is pure and does no I/O.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Status is the billing/treatment state of a patient.
type Status string

const (
	StatusDebtor  Status = "debtor"
	StatusPaid    Status = "paid"
	StatusTreated Status = "treated"
)

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// AllStatuses lists statuses in display order.
var AllStatuses = []Status{StatusDebtor, StatusPaid, StatusTreated}

func (s Status) Valid() bool {
	switch s {
	case StatusDebtor, StatusPaid, StatusTreated:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// ParseStatus converts a raw value into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// MoneyScale is the number of fractional digits kept for money values.
const MoneyScale = 2

// Round normalizes a money value to two fractional digits.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// Money renders an amount in JSON as a string with exactly two fractional
// digits, e.g. "100.00".
type Money decimal.Decimal

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(decimal.Decimal(m).StringFixed(MoneyScale))
}

// TotalPaid sums payment amounts. No payments yields zero.
func TotalPaid(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return Round(total)
}

// RemainingDebt is due minus paid. A negative result means overpayment and
// is returned as-is.
func RemainingDebt(due, paid decimal.Decimal) decimal.Decimal {
	return Round(due.Sub(paid))
}

// Summary is the derived money view of one patient.
type Summary struct {
	TotalDue      decimal.Decimal `json:"total_payment_due"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	RemainingDebt decimal.Decimal `json:"remaining_debt"`
}

// FixedSummary is the wire form of a Summary.
type FixedSummary struct {
	TotalDue      Money `json:"total_payment_due"`
	TotalPaid     Money `json:"total_paid"`
	RemainingDebt Money `json:"remaining_debt"`
}

func (s Summary) Fixed() FixedSummary {
	return FixedSummary{
		TotalDue:      Money(s.TotalDue),
		TotalPaid:     Money(s.TotalPaid),
		RemainingDebt: Money(s.RemainingDebt),
	}
}

func (s Summary) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Fixed())
}

// Summarize computes the summary for a due amount and its payments.
func Summarize(due decimal.Decimal, amounts ...decimal.Decimal) Summary {
	paid := TotalPaid(amounts...)
	return Summary{
		TotalDue:      Round(due),
		TotalPaid:     paid,
		RemainingDebt: RemainingDebt(due, paid),
	}
}

// Settled reports whether nothing is left to pay.
func (s Summary) Settled() bool {
	return !s.RemainingDebt.IsPositive()
}

// Recompute derives the status from the remaining debt. Treated is terminal
// for the ledger and is never downgraded by a payment change.
func Recompute(current Status, remaining decimal.Decimal) Status {
	if current == StatusTreated {
		return StatusTreated
	}
	if remaining.IsPositive() {
		return StatusDebtor
	}
	return StatusPaid
}

// MarkTreated performs the paid -> treated transition. Any other starting
// status is rejected and left unchanged.
func MarkTreated(current Status) (Status, error) {
	if current != StatusPaid {
		return current, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, StatusTreated)
	}
	return StatusTreated, nil
}
