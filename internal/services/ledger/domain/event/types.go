package event

import (
	"fmt"
	"strings"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/money"
)

// Event types owned by the ledger core.
const (
	TypeTipsDistributed          Type = "TIPS_DISTRIBUTED"
	TypeTipPaid                  Type = "TIP_PAID"
	TypeTipsPolicyUpdated        Type = "TIPS_POLICY_UPDATED"
	TypeDailyReportSubmitted     Type = "DAILY_REPORT_SUBMITTED"
	TypeDailyReportCorrected     Type = "DAILY_REPORT_CORRECTED"
	TypeTemplateVersionPublished Type = "TEMPLATE_VERSION_PUBLISHED"
)

// Payload is a decoded, validated event body.
type Payload interface {
	Validate() error
}

// Allocation credits one employee inside a distribution.
type Allocation struct {
	EmployeeID string       `json:"employeeId"`
	Amount     money.Amount `json:"amount"`
}

// TipsDistributedPayload credits tip balances for one day.
type TipsDistributedPayload struct {
	RestaurantID string       `json:"restaurantId,omitempty"`
	Date         string       `json:"date"`
	TotalTips    money.Amount `json:"totalTips"`
	Allocations  []Allocation `json:"allocations"`
}

// Validate implements Payload.
func (p *TipsDistributedPayload) Validate() error {
	if strings.TrimSpace(p.Date) == "" {
		return fmt.Errorf("date is required")
	}
	for i, a := range p.Allocations {
		if strings.TrimSpace(a.EmployeeID) == "" {
			return fmt.Errorf("allocation %d: employee id is required", i)
		}
		if a.Amount.Decimal().IsNegative() {
			return fmt.Errorf("allocation %d: amount must not be negative", i)
		}
	}
	return nil
}

// TipPaidPayload debits one employee's tip balance.
type TipPaidPayload struct {
	RestaurantID string       `json:"restaurantId,omitempty"`
	EmployeeID   string       `json:"employeeId"`
	Amount       money.Amount `json:"amount"`
	Mode         string       `json:"mode,omitempty"`
	Reason       string       `json:"reason,omitempty"`
}

// Validate implements Payload.
func (p *TipPaidPayload) Validate() error {
	if strings.TrimSpace(p.EmployeeID) == "" {
		return fmt.Errorf("employee id is required")
	}
	if !p.Amount.Decimal().IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// TipsPolicyUpdatedPayload sets whether managers share the tip pool.
type TipsPolicyUpdatedPayload struct {
	RestaurantID    string `json:"restaurantId,omitempty"`
	IncludeManagers bool   `json:"includeManagers"`
}

// Validate implements Payload.
func (p *TipsPolicyUpdatedPayload) Validate() error { return nil }

// ReportFigures are the sales figures of a daily report.
type ReportFigures struct {
	CashSales money.Amount `json:"cashSales"`
	CardSales money.Amount `json:"cardSales"`
	Covers    int          `json:"covers"`
}

func (f ReportFigures) validate() error {
	if f.CashSales.Decimal().IsNegative() || f.CardSales.Decimal().IsNegative() {
		return fmt.Errorf("sales must not be negative")
	}
	if f.Covers < 0 {
		return fmt.Errorf("covers must not be negative")
	}
	return nil
}

// DailyReportSubmittedPayload records the close-out figures of one day.
type DailyReportSubmittedPayload struct {
	RestaurantID string `json:"restaurantId,omitempty"`
	Date         string `json:"date"`
	ReportFigures
	Notes string `json:"notes,omitempty"`
}

// Validate implements Payload.
func (p *DailyReportSubmittedPayload) Validate() error {
	if strings.TrimSpace(p.Date) == "" {
		return fmt.Errorf("date is required")
	}
	return p.ReportFigures.validate()
}

// DailyReportCorrectedPayload replaces the figures of a submitted report.
// Previous carries the figures being replaced so aggregates can apply the
// difference without reading history.
type DailyReportCorrectedPayload struct {
	RestaurantID string `json:"restaurantId,omitempty"`
	Date         string `json:"date"`
	ReportFigures
	Previous ReportFigures `json:"previous"`
	Reason   string        `json:"reason,omitempty"`
}

// Validate implements Payload.
func (p *DailyReportCorrectedPayload) Validate() error {
	if strings.TrimSpace(p.Date) == "" {
		return fmt.Errorf("date is required")
	}
	if err := p.ReportFigures.validate(); err != nil {
		return err
	}
	return p.Previous.validate()
}

// TemplateVersionPublishedPayload publishes a new version of a named
// report template.
type TemplateVersionPublishedPayload struct {
	RestaurantID string   `json:"restaurantId,omitempty"`
	Name         string   `json:"name"`
	VersionID    string   `json:"versionId"`
	Fields       []string `json:"fields,omitempty"`
	Body         string   `json:"body,omitempty"`
}

// Validate implements Payload.
func (p *TemplateVersionPublishedPayload) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("template name is required")
	}
	if strings.TrimSpace(p.VersionID) == "" {
		return fmt.Errorf("version id is required")
	}
	return nil
}

// CoreDefinitions lists the event types the ledger core decodes.
func CoreDefinitions() []Definition {
	return []Definition{
		{
			Type:          TypeTipsDistributed,
			OncePerStream: true,
			NewPayload:    func() Payload { return &TipsDistributedPayload{} },
		},
		{
			Type:       TypeTipPaid,
			NewPayload: func() Payload { return &TipPaidPayload{} },
		},
		{
			Type:       TypeTipsPolicyUpdated,
			NewPayload: func() Payload { return &TipsPolicyUpdatedPayload{} },
		},
		{
			Type:          TypeDailyReportSubmitted,
			OncePerStream: true,
			NewPayload:    func() Payload { return &DailyReportSubmittedPayload{} },
		},
		{
			Type:       TypeDailyReportCorrected,
			NewPayload: func() Payload { return &DailyReportCorrectedPayload{} },
		},
		{
			Type:       TypeTemplateVersionPublished,
			NewPayload: func() Payload { return &TemplateVersionPublishedPayload{} },
		},
	}
}

// CoreRegistry returns a registry with every core definition registered.
func CoreRegistry() *Registry {
	r := NewRegistry()
	for _, def := range CoreDefinitions() {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}
