package tips

import (
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/louisbranch/brigade/internal/platform/errors"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/money"
)

// Shift is time worked toward one tip pool.
type Shift struct {
	EmployeeID string
	Hours      decimal.Decimal
	Manager    bool
}

// Allocation is one employee's share of a distribution, in major units
// rounded to cents.
type Allocation struct {
	EmployeeID string
	Hours      decimal.Decimal
	// Allocated is this distribution's share.
	Allocated decimal.Decimal
	// Payout is the part of carried balance plus Allocated that is paid out,
	// a multiple of 20.
	Payout decimal.Decimal
	// Remainder stays in the running balance.
	Remainder decimal.Decimal
}

// Distribution is the result of CalculateDistribution.
type Distribution struct {
	CashTotal   decimal.Decimal
	TotalHours  decimal.Decimal
	Rate        decimal.Decimal
	Allocations []Allocation
}

// TotalAllocated sums the allocated amounts.
func (d Distribution) TotalAllocated() decimal.Decimal {
	total := decimal.Zero
	for _, a := range d.Allocations {
		total = total.Add(a.Allocated)
	}
	return total
}

// CalculateDistribution splits cashTotal across shifts in proportion to
// hours and folds each employee's existing balance into the payout.
//
// Shifts of one employee are merged, keeping first-appearance order.
// When there are no hours or no cash, nothing is allocated or paid and each
// remainder is the carried balance. Otherwise each share is rounded half away
// from zero to cents; the aggregate rounding loss is not redistributed.
// Payouts are the largest multiple of 20 covered by balance plus share.
func CalculateDistribution(shifts []Shift, cashTotal decimal.Decimal, existingCents map[string]money.Cents) (Distribution, error) {
	if cashTotal.IsNegative() {
		return Distribution{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "cash total must not be negative",
			map[string]string{"Field": "cashTotal", "Reason": "must not be negative"})
	}

	merged, err := mergeShifts(shifts)
	if err != nil {
		return Distribution{}, err
	}

	totalHours := decimal.Zero
	for _, s := range merged {
		totalHours = totalHours.Add(s.Hours)
	}

	dist := Distribution{
		CashTotal:   cashTotal,
		TotalHours:  totalHours,
		Rate:        decimal.Zero,
		Allocations: make([]Allocation, 0, len(merged)),
	}

	if totalHours.IsZero() || cashTotal.IsZero() {
		for _, s := range merged {
			dist.Allocations = append(dist.Allocations, Allocation{
				EmployeeID: s.EmployeeID,
				Hours:      s.Hours,
				Allocated:  decimal.Zero,
				Payout:     decimal.Zero,
				Remainder:  existingCents[s.EmployeeID].Decimal(),
			})
		}
		return dist, nil
	}

	dist.Rate = cashTotal.Div(totalHours)
	for _, s := range merged {
		// hours*cash/totalHours keeps full precision until the cent rounding.
		allocatedCents := money.FromDecimal(s.Hours.Mul(cashTotal).Div(totalHours))
		available := existingCents[s.EmployeeID] + allocatedCents
		payout := available.FloorTo(money.PayoutUnit)
		dist.Allocations = append(dist.Allocations, Allocation{
			EmployeeID: s.EmployeeID,
			Hours:      s.Hours,
			Allocated:  allocatedCents.Decimal(),
			Payout:     payout.Decimal(),
			Remainder:  (available - payout).Decimal(),
		})
	}
	return dist, nil
}

func mergeShifts(shifts []Shift) ([]Shift, error) {
	index := make(map[string]int, len(shifts))
	merged := make([]Shift, 0, len(shifts))
	for _, s := range shifts {
		employeeID := strings.TrimSpace(s.EmployeeID)
		if employeeID == "" {
			return nil, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "shift employee id is required",
				map[string]string{"Field": "employeeId", "Reason": "is required"})
		}
		if s.Hours.IsNegative() {
			return nil, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "shift hours must not be negative",
				map[string]string{"Field": "hours", "Reason": "must not be negative"})
		}
		if i, ok := index[employeeID]; ok {
			merged[i].Hours = merged[i].Hours.Add(s.Hours)
			merged[i].Manager = merged[i].Manager || s.Manager
			continue
		}
		index[employeeID] = len(merged)
		merged = append(merged, Shift{EmployeeID: employeeID, Hours: s.Hours, Manager: s.Manager})
	}
	return merged, nil
}

// ExcludeManagers drops shifts worked by managers.
func ExcludeManagers(shifts []Shift) []Shift {
	out := make([]Shift, 0, len(shifts))
	for _, s := range shifts {
		if !s.Manager {
			out = append(out, s)
		}
	}
	return out
}
