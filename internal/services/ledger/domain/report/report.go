// Package report folds a daily report stream into the report's current
// figures.
package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/money"
)

// Correction is one applied DAILY_REPORT_CORRECTED.
type Correction struct {
	EventID     string
	Reason      string
	ActorID     string
	CorrectedAt time.Time
	Previous    event.ReportFigures
}

// DailyReport is the current view of one day's close-out report.
type DailyReport struct {
	RestaurantID string
	Date         string
	CashSales    money.Amount
	CardSales    money.Amount
	Covers       int
	Notes        string
	SubmittedBy  string
	SubmittedAt  time.Time
	Corrections  []Correction
}

// Submitted reports whether the stream held a submission.
func (r DailyReport) Submitted() bool {
	return !r.SubmittedAt.IsZero()
}

// Figures returns the current sales figures.
func (r DailyReport) Figures() event.ReportFigures {
	return event.ReportFigures{CashSales: r.CashSales, CardSales: r.CardSales, Covers: r.Covers}
}

// TotalSales is cash plus card sales.
func (r DailyReport) TotalSales() money.Cents {
	return r.CashSales.Cents() + r.CardSales.Cents()
}

// Fold applies one report event.
func Fold(state DailyReport, evt event.Event) (DailyReport, error) {
	switch evt.Type {
	case event.TypeDailyReportSubmitted:
		var payload event.DailyReportSubmittedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state, fmt.Errorf("decode report submission: %w", err)
		}
		state.RestaurantID = firstNonEmpty(payload.RestaurantID, evt.Meta.RestaurantID, state.RestaurantID)
		state.Date = payload.Date
		state.CashSales = payload.CashSales
		state.CardSales = payload.CardSales
		state.Covers = payload.Covers
		state.Notes = payload.Notes
		state.SubmittedBy = evt.Meta.ActorID
		state.SubmittedAt = evt.OccurredAt
	case event.TypeDailyReportCorrected:
		var payload event.DailyReportCorrectedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state, fmt.Errorf("decode report correction: %w", err)
		}
		state.Corrections = append(state.Corrections, Correction{
			EventID:     evt.ID,
			Reason:      payload.Reason,
			ActorID:     evt.Meta.ActorID,
			CorrectedAt: evt.OccurredAt,
			Previous:    state.Figures(),
		})
		state.CashSales = payload.CashSales
		state.CardSales = payload.CardSales
		state.Covers = payload.Covers
	}
	return state, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
