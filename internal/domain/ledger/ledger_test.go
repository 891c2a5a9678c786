package ledger

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestParseStatus(t *testing.T) {
	for _, s := range AllStatuses {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseStatus("archived")
	assert.Error(t, err)
	_, err = ParseStatus("")
	assert.Error(t, err)
}

func TestTotalPaid(t *testing.T) {
	assert.True(t, TotalPaid().Equal(decimal.Zero), "no payments should be zero")
	assert.Equal(t, "0.00", TotalPaid().StringFixed(MoneyScale))

	total := TotalPaid(d("100.00"), d("50.00"), d("0.10"), d("0.20"))
	assert.True(t, total.Equal(d("150.30")), "got %s", total)
}

func TestTotalPaid_NoFloatDrift(t *testing.T) {
	amounts := make([]decimal.Decimal, 0, 10)
	for i := 0; i < 10; i++ {
		amounts = append(amounts, d("0.10"))
	}
	assert.True(t, TotalPaid(amounts...).Equal(d("1.00")))
}

func TestRemainingDebt(t *testing.T) {
	tests := []struct {
		name string
		due  string
		paid string
		want string
	}{
		{"nothing paid", "500.00", "0", "500.00"},
		{"partial", "500.00", "150.00", "350.00"},
		{"exact", "500.00", "500.00", "0.00"},
		{"overpaid stays negative", "500.00", "650.00", "-150.00"},
		{"zero due", "0", "0", "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RemainingDebt(d(tt.due), d(tt.paid))
			assert.True(t, got.Equal(d(tt.want)), "want %s got %s", tt.want, got)
		})
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(d("500.00"), d("200.00"), d("100.00"))
	assert.True(t, s.TotalDue.Equal(d("500")))
	assert.True(t, s.TotalPaid.Equal(d("300")))
	assert.True(t, s.RemainingDebt.Equal(d("200")))
	assert.False(t, s.Settled())

	assert.True(t, Summarize(d("100"), d("100")).Settled())
	assert.True(t, Summarize(d("100"), d("120")).Settled())
	assert.True(t, Summarize(decimal.Zero).Settled())
}

func TestRecompute(t *testing.T) {
	tests := []struct {
		name      string
		current   Status
		remaining string
		want      Status
	}{
		{"debtor still owes", StatusDebtor, "10.00", StatusDebtor},
		{"debtor settles", StatusDebtor, "0.00", StatusPaid},
		{"debtor overpays", StatusDebtor, "-5.00", StatusPaid},
		{"paid falls back after deletion", StatusPaid, "25.00", StatusDebtor},
		{"paid stays paid", StatusPaid, "0", StatusPaid},
		{"treated is never downgraded", StatusTreated, "300.00", StatusTreated},
		{"treated stays treated when settled", StatusTreated, "0", StatusTreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Recompute(tt.current, d(tt.remaining)))
		})
	}
}

func TestRecompute_Idempotent(t *testing.T) {
	for _, s := range AllStatuses {
		for _, r := range []string{"-1", "0", "1"} {
			once := Recompute(s, d(r))
			assert.Equal(t, once, Recompute(once, d(r)))
		}
	}
}

func TestMarkTreated(t *testing.T) {
	next, err := MarkTreated(StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, StatusTreated, next)

	for _, s := range []Status{StatusDebtor, StatusTreated} {
		next, err := MarkTreated(s)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, s, next, "status must be unchanged on rejection")
	}
}

func TestTreatOutcome(t *testing.T) {
	out := TreatOutcome(StatusPaid)
	assert.True(t, out.Accepted)
	assert.Equal(t, StatusTreated, out.Status)
	assert.Equal(t, MsgMarkedTreated, out.Message)

	out = TreatOutcome(StatusDebtor)
	assert.False(t, out.Accepted)
	assert.Equal(t, StatusDebtor, out.Status)
	assert.Equal(t, MsgStillInDebt, out.Message)

	out = TreatOutcome(StatusTreated)
	assert.False(t, out.Accepted)
	assert.Equal(t, StatusTreated, out.Status)
	assert.Equal(t, MsgAlreadyTreated, out.Message)
}

func TestMoney_MarshalJSON(t *testing.T) {
	cases := map[string]string{
		"0":      `"0.00"`,
		"100":    `"100.00"`,
		"150.5":  `"150.50"`,
		"-30":    `"-30.00"`,
		"12.345": `"12.35"`,
	}
	for in, want := range cases {
		got, err := json.Marshal(Money(d(in)))
		require.NoError(t, err)
		assert.Equal(t, want, string(got), in)
	}
}

func TestSummary_MarshalJSON(t *testing.T) {
	got, err := json.Marshal(Summarize(d("100"), d("40"), d("60")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"total_payment_due":"100.00","total_paid":"100.00","remaining_debt":"0.00"}`, string(got))
}
