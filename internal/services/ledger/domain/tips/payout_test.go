package tips

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	apperrors "github.com/louisbranch/brigade/internal/platform/errors"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/money"
)

func TestValidatePayout(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		mode     Mode
		want     money.Cents
		wantCode apperrors.Code
	}{
		{name: "multiple of 20", amount: "40", mode: ModeNormal20s, want: 4000},
		{name: "not multiple of 20", amount: "25", mode: ModeNormal20s, wantCode: apperrors.CodeFlushAmountNotMultipleOf20},
		{name: "cents under normal", amount: "20.01", mode: ModeNormal20s, wantCode: apperrors.CodeFlushAmountNotMultipleOf20},
		{name: "exact allows cents", amount: "13.33", mode: ModeExact, want: 1333},
		{name: "zero", amount: "0", mode: ModeExact, wantCode: apperrors.CodeFlushAmountNotPositive},
		{name: "negative", amount: "-20", mode: ModeNormal20s, wantCode: apperrors.CodeFlushAmountNotPositive},
		{name: "under a cent", amount: "0.004", mode: ModeExact, wantCode: apperrors.CodeFlushAmountFractionalCents},
		{name: "rounds up to 20", amount: "19.995", mode: ModeNormal20s, wantCode: apperrors.CodeFlushAmountFractionalCents},
		{name: "rounds down to 20", amount: "20.004", mode: ModeNormal20s, wantCode: apperrors.CodeFlushAmountFractionalCents},
		{name: "fractional cents under exact", amount: "13.335", mode: ModeExact, wantCode: apperrors.CodeFlushAmountFractionalCents},
		{name: "trailing zeros allowed", amount: "40.000", mode: ModeNormal20s, want: 4000},
		{name: "unknown mode", amount: "20", mode: Mode("WEEKLY"), wantCode: apperrors.CodeInvalidFlushMode},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidatePayout(decimal.RequireFromString(tc.amount), tc.mode)
			if tc.wantCode != "" {
				if code := apperrors.CodeOf(err); code != tc.wantCode {
					t.Fatalf("code = %s, want %s (err %v)", code, tc.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if got != tc.want {
				t.Fatalf("cents = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestValidatePayoutNamesViolatedRule(t *testing.T) {
	_, err := ValidatePayout(decimal.NewFromInt(25), ModeNormal20s)
	if err == nil || !strings.Contains(err.Error(), "multiple of 20") {
		t.Fatalf("error = %v, want rule in message", err)
	}
	var domainErr *apperrors.Error
	if !asDomainError(err, &domainErr) || domainErr.Metadata["Rule"] != "amount % 20 == 0" {
		t.Fatalf("metadata = %+v", domainErr)
	}
}

func TestCheckAvailableReportsBothValues(t *testing.T) {
	if err := CheckAvailable(4000, 4000); err != nil {
		t.Fatalf("exact balance rejected: %v", err)
	}
	err := CheckAvailable(4550, 6000)
	if !apperrors.IsInsufficientFunds(err) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	var domainErr *apperrors.Error
	if !asDomainError(err, &domainErr) {
		t.Fatalf("expected domain error, got %T", err)
	}
	if domainErr.Metadata["Available"] != "45.50" || domainErr.Metadata["Requested"] != "60.00" {
		t.Fatalf("metadata = %v", domainErr.Metadata)
	}
	if !strings.Contains(err.Error(), "45.50") || !strings.Contains(err.Error(), "60.00") {
		t.Fatalf("message = %q, want both values", err.Error())
	}
}

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{"": ModeNormal20s, "normal_20s": ModeNormal20s, " EXACT ": ModeExact}
	for raw, want := range tests {
		got, err := ParseMode(raw)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v; want %q", raw, got, err, want)
		}
	}
	if _, err := ParseMode("monthly"); apperrors.CodeOf(err) != apperrors.CodeInvalidFlushMode {
		t.Fatalf("expected invalid mode error, got %v", err)
	}
}

func asDomainError(err error, target **apperrors.Error) bool {
	de, ok := err.(*apperrors.Error)
	if ok {
		*target = de
	}
	return ok
}
