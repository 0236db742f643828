package tips

import (
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/louisbranch/brigade/internal/platform/errors"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/money"
)

// Mode selects the payout granularity of a flush.
type Mode string

const (
	// ModeNormal20s pays whole multiples of 20.
	ModeNormal20s Mode = "NORMAL_20S"
	// ModeExact pays any positive cent amount.
	ModeExact Mode = "EXACT"
)

// ParseMode normalizes a mode name. An empty name selects NORMAL_20S.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(raw))) {
	case "", ModeNormal20s:
		return ModeNormal20s, nil
	case ModeExact:
		return ModeExact, nil
	default:
		return "", apperrors.WithMetadata(apperrors.CodeInvalidFlushMode, "unknown flush mode",
			map[string]string{"Mode": raw})
	}
}

// ValidatePayout checks a flush amount against the rules of mode and
// returns it in cents. Amounts are never rounded into validity.
func ValidatePayout(amount decimal.Decimal, mode Mode) (money.Cents, error) {
	if !amount.IsPositive() {
		return 0, apperrors.WithMetadata(apperrors.CodeFlushAmountNotPositive,
			"flush amount must be greater than zero",
			map[string]string{"Requested": amount.StringFixed(2), "Rule": "amount > 0"})
	}
	if !amount.Equal(amount.Round(2)) {
		return 0, apperrors.WithMetadata(apperrors.CodeFlushAmountFractionalCents,
			"flush amount has fractions of a cent",
			map[string]string{"Requested": amount.String(), "Rule": "amount == round(amount, 2)"})
	}
	cents := money.FromDecimal(amount)
	switch mode {
	case ModeNormal20s:
		if cents%money.PayoutUnit != 0 {
			return 0, apperrors.WithMetadata(apperrors.CodeFlushAmountNotMultipleOf20,
				"flush amount must be a multiple of 20 in NORMAL_20S mode",
				map[string]string{"Requested": cents.String(), "Rule": "amount % 20 == 0"})
		}
	case ModeExact:
	default:
		return 0, apperrors.WithMetadata(apperrors.CodeInvalidFlushMode, "unknown flush mode",
			map[string]string{"Mode": string(mode)})
	}
	return cents, nil
}

// CheckAvailable rejects a payout larger than the available balance,
// reporting both values.
func CheckAvailable(available, requested money.Cents) error {
	if available >= requested {
		return nil
	}
	return apperrors.WithMetadata(apperrors.CodeInsufficientFunds,
		"insufficient tip balance: available "+available.String()+", requested "+requested.String(),
		map[string]string{"Available": available.String(), "Requested": requested.String()})
}
