package tips

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	apperrors "github.com/louisbranch/brigade/internal/platform/errors"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/money"
)

func hours(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func cash(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type wantAllocation struct {
	employee  string
	allocated string
	payout    string
	remainder string
}

func TestCalculateDistribution(t *testing.T) {
	tests := []struct {
		name     string
		shifts   []Shift
		cash     string
		existing map[string]money.Cents
		want     []wantAllocation
	}{
		{
			name:   "even split",
			shifts: []Shift{{EmployeeID: "A", Hours: hours("5")}, {EmployeeID: "B", Hours: hours("5")}},
			cash:   "100",
			want: []wantAllocation{
				{employee: "A", allocated: "50.00", payout: "40.00", remainder: "10.00"},
				{employee: "B", allocated: "50.00", payout: "40.00", remainder: "10.00"},
			},
		},
		{
			name:   "single employee no balance",
			shifts: []Shift{{EmployeeID: "A", Hours: hours("10")}},
			cash:   "50",
			want:   []wantAllocation{{employee: "A", allocated: "50.00", payout: "40.00", remainder: "10.00"}},
		},
		{
			name:     "carried balance reaches payout",
			shifts:   []Shift{{EmployeeID: "A", Hours: hours("10")}},
			cash:     "10",
			existing: map[string]money.Cents{"A": 1500},
			want:     []wantAllocation{{employee: "A", allocated: "10.00", payout: "20.00", remainder: "5.00"}},
		},
		{
			name: "three way split loses a cent",
			shifts: []Shift{
				{EmployeeID: "A", Hours: hours("1")},
				{EmployeeID: "B", Hours: hours("1")},
				{EmployeeID: "C", Hours: hours("1")},
			},
			cash: "100",
			want: []wantAllocation{
				{employee: "A", allocated: "33.33", payout: "20.00", remainder: "13.33"},
				{employee: "B", allocated: "33.33", payout: "20.00", remainder: "13.33"},
				{employee: "C", allocated: "33.33", payout: "20.00", remainder: "13.33"},
			},
		},
		{
			name:   "zero hours",
			shifts: []Shift{{EmployeeID: "A", Hours: hours("0")}},
			cash:   "100",
			want:   []wantAllocation{{employee: "A", allocated: "0.00", payout: "0.00", remainder: "0.00"}},
		},
		{
			name:     "zero cash carries balance without payout",
			shifts:   []Shift{{EmployeeID: "A", Hours: hours("8")}},
			cash:     "0",
			existing: map[string]money.Cents{"A": 4550},
			want:     []wantAllocation{{employee: "A", allocated: "0.00", payout: "0.00", remainder: "45.50"}},
		},
		{
			name: "half cent rounds away from zero",
			shifts: []Shift{
				{EmployeeID: "A", Hours: hours("1")},
				{EmployeeID: "B", Hours: hours("1")},
			},
			cash: "0.05",
			want: []wantAllocation{
				{employee: "A", allocated: "0.03", payout: "0.00", remainder: "0.03"},
				{employee: "B", allocated: "0.03", payout: "0.00", remainder: "0.03"},
			},
		},
		{
			name: "shifts of one employee merge in first appearance order",
			shifts: []Shift{
				{EmployeeID: "B", Hours: hours("2")},
				{EmployeeID: "A", Hours: hours("4")},
				{EmployeeID: "B", Hours: hours("2")},
			},
			cash: "80",
			want: []wantAllocation{
				{employee: "B", allocated: "40.00", payout: "40.00", remainder: "0.00"},
				{employee: "A", allocated: "40.00", payout: "40.00", remainder: "0.00"},
			},
		},
		{
			name:     "negative balance blocks payout",
			shifts:   []Shift{{EmployeeID: "A", Hours: hours("1")}},
			cash:     "10",
			existing: map[string]money.Cents{"A": -2500},
			want:     []wantAllocation{{employee: "A", allocated: "10.00", payout: "0.00", remainder: "-15.00"}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dist, err := CalculateDistribution(tc.shifts, cash(tc.cash), tc.existing)
			if err != nil {
				t.Fatalf("calculate: %v", err)
			}
			if len(dist.Allocations) != len(tc.want) {
				t.Fatalf("allocations = %d, want %d", len(dist.Allocations), len(tc.want))
			}
			for i, want := range tc.want {
				got := dist.Allocations[i]
				if got.EmployeeID != want.employee {
					t.Fatalf("allocation %d employee = %s, want %s", i, got.EmployeeID, want.employee)
				}
				if got.Allocated.StringFixed(2) != want.allocated {
					t.Fatalf("%s allocated = %s, want %s", want.employee, got.Allocated.StringFixed(2), want.allocated)
				}
				if got.Payout.StringFixed(2) != want.payout {
					t.Fatalf("%s payout = %s, want %s", want.employee, got.Payout.StringFixed(2), want.payout)
				}
				if got.Remainder.StringFixed(2) != want.remainder {
					t.Fatalf("%s remainder = %s, want %s", want.employee, got.Remainder.StringFixed(2), want.remainder)
				}
			}
		})
	}
}

func TestCalculateDistributionThreeWayAggregateLoss(t *testing.T) {
	dist, err := CalculateDistribution([]Shift{
		{EmployeeID: "A", Hours: hours("1")},
		{EmployeeID: "B", Hours: hours("1")},
		{EmployeeID: "C", Hours: hours("1")},
	}, cash("100"), nil)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if got := dist.TotalAllocated().StringFixed(2); got != "99.99" {
		t.Fatalf("total allocated = %s, want 99.99", got)
	}
}

func TestCalculateDistributionRoundingBound(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 500; iter++ {
		n := 1 + rng.Intn(12)
		shifts := make([]Shift, n)
		for i := range shifts {
			// Quarter-hour shifts between 0.25h and 12h.
			shifts[i] = Shift{
				EmployeeID: string(rune('A' + i)),
				Hours:      decimal.New(int64(1+rng.Intn(48)), 0).Div(decimal.NewFromInt(4)),
			}
		}
		cashTotal := money.Cents(1 + rng.Intn(500000)).Decimal()

		dist, err := CalculateDistribution(shifts, cashTotal, nil)
		if err != nil {
			t.Fatalf("calculate: %v", err)
		}
		diff := money.FromDecimal(dist.TotalAllocated().Sub(cashTotal))
		if diff < 0 {
			diff = -diff
		}
		if diff > money.Cents(n-1) {
			t.Fatalf("iteration %d: %d employees, cash %s, allocated %s: diff %d cents",
				iter, n, cashTotal.StringFixed(2), dist.TotalAllocated().StringFixed(2), diff)
		}
	}
}

func TestCalculateDistributionPayoutsAreMultiplesOf20(t *testing.T) {
	dist, err := CalculateDistribution([]Shift{
		{EmployeeID: "A", Hours: hours("7.5")},
		{EmployeeID: "B", Hours: hours("3.25")},
	}, cash("312.47"), map[string]money.Cents{"A": 1999, "B": 1})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	for _, a := range dist.Allocations {
		if money.FromDecimal(a.Payout)%money.PayoutUnit != 0 {
			t.Fatalf("%s payout %s is not a multiple of 20", a.EmployeeID, a.Payout)
		}
		if a.Remainder.IsNegative() || a.Remainder.GreaterThanOrEqual(decimal.NewFromInt(20)) {
			t.Fatalf("%s remainder %s outside [0, 20)", a.EmployeeID, a.Remainder)
		}
	}
}

func TestCalculateDistributionRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		shifts []Shift
		cash   string
	}{
		{name: "negative hours", shifts: []Shift{{EmployeeID: "A", Hours: hours("-1")}}, cash: "10"},
		{name: "missing employee", shifts: []Shift{{EmployeeID: " ", Hours: hours("1")}}, cash: "10"},
		{name: "negative cash", shifts: []Shift{{EmployeeID: "A", Hours: hours("1")}}, cash: "-10"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CalculateDistribution(tc.shifts, cash(tc.cash), nil)
			if !apperrors.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestExcludeManagers(t *testing.T) {
	got := ExcludeManagers([]Shift{
		{EmployeeID: "A", Hours: hours("5")},
		{EmployeeID: "M", Hours: hours("5"), Manager: true},
	})
	if len(got) != 1 || got[0].EmployeeID != "A" {
		t.Fatalf("shifts = %+v", got)
	}
}
