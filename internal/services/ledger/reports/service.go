package reports

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "github.com/louisbranch/brigade/internal/platform/errors"
	"github.com/louisbranch/brigade/internal/platform/requestctx"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/money"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/replay"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/report"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/stream"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/template"
	"github.com/louisbranch/brigade/internal/services/ledger/journal"
	"github.com/louisbranch/brigade/internal/services/ledger/storage"
)

// ErrLedgerRequired indicates a service without a ledger.
var ErrLedgerRequired = errors.New("ledger is required")

// Ledger is the part of the event ledger the service uses.
type Ledger interface {
	Append(ctx context.Context, evt event.Event, opts ...journal.AppendOption) (event.Event, error)
	GetStream(ctx context.Context, streamID string) ([]event.Event, error)
}

// Config wires a Service.
type Config struct {
	Ledger Ledger
	Logger *zap.Logger
	// Now stamps template revisions. Defaults to time.Now.
	Now func() time.Time
}

// Service manages daily reports and report templates.
type Service struct {
	ledger Ledger
	logger *zap.Logger
	now    func() time.Time
}

// New returns a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Ledger == nil {
		return nil, ErrLedgerRequired
	}
	s := &Service{ledger: cfg.Ledger, logger: cfg.Logger, now: cfg.Now}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Figures are the sales figures of a report submission or correction.
type Figures struct {
	CashSales decimal.Decimal
	CardSales decimal.Decimal
	Covers    int
}

func (f Figures) validate() error {
	if f.CashSales.IsNegative() {
		return invalidArgument("cashSales", "must not be negative")
	}
	if f.CardSales.IsNegative() {
		return invalidArgument("cardSales", "must not be negative")
	}
	if f.Covers < 0 {
		return invalidArgument("covers", "must not be negative")
	}
	return nil
}

func (f Figures) payload() event.ReportFigures {
	return event.ReportFigures{
		CashSales: money.AmountFromCents(money.FromDecimal(f.CashSales)),
		CardSales: money.AmountFromCents(money.FromDecimal(f.CardSales)),
		Covers:    f.Covers,
	}
}

// SubmitRequest closes out one day.
type SubmitRequest struct {
	RestaurantID string
	Date         string
	Figures      Figures
	Notes        string
	Actor        requestctx.Actor
}

// SubmitDailyReport records the day's figures. A day is submitted once;
// later changes go through CorrectDailyReport.
func (s *Service) SubmitDailyReport(ctx context.Context, req SubmitRequest) (event.Event, error) {
	restaurantID, date, err := reportKey(req.RestaurantID, req.Date)
	if err != nil {
		return event.Event{}, err
	}
	if err := req.Figures.validate(); err != nil {
		return event.Event{}, err
	}
	return s.append(withActor(ctx, req.Actor), stream.DailyReport(restaurantID, date), event.TypeDailyReportSubmitted, restaurantID, time.Time{},
		&event.DailyReportSubmittedPayload{
			RestaurantID:  restaurantID,
			Date:          date,
			ReportFigures: req.Figures.payload(),
			Notes:         strings.TrimSpace(req.Notes),
		})
}

// CorrectRequest replaces the figures of a submitted day.
type CorrectRequest struct {
	RestaurantID string
	Date         string
	Figures      Figures
	Reason       string
	Actor        requestctx.Actor
}

// CorrectDailyReport records new figures for a submitted day, carrying the
// figures they replace.
func (s *Service) CorrectDailyReport(ctx context.Context, req CorrectRequest) (event.Event, error) {
	restaurantID, date, err := reportKey(req.RestaurantID, req.Date)
	if err != nil {
		return event.Event{}, err
	}
	if err := req.Figures.validate(); err != nil {
		return event.Event{}, err
	}
	if strings.TrimSpace(req.Reason) == "" {
		return event.Event{}, invalidArgument("reason", "is required")
	}

	streamID := stream.DailyReport(restaurantID, date)
	current, version, err := replay.Stream(ctx, s.ledger, streamID, report.DailyReport{}, report.Fold)
	if err != nil {
		return event.Event{}, err
	}
	if !current.Submitted() {
		return event.Event{}, storage.NotFoundError("daily report")
	}
	// Stream versions are contiguous, so the count of folded events is the
	// current version.
	return s.append(withActor(ctx, req.Actor), streamID, event.TypeDailyReportCorrected, restaurantID, time.Time{},
		&event.DailyReportCorrectedPayload{
			RestaurantID:  restaurantID,
			Date:          date,
			ReportFigures: req.Figures.payload(),
			Previous:      current.Figures(),
			Reason:        strings.TrimSpace(req.Reason),
		}, journal.ExpectVersion(uint64(version)))
}

// GetDailyReport replays one day's report.
func (s *Service) GetDailyReport(ctx context.Context, restaurantID, date string) (report.DailyReport, error) {
	restaurantID, date, err := reportKey(restaurantID, date)
	if err != nil {
		return report.DailyReport{}, err
	}
	state, n, err := replay.Stream(ctx, s.ledger, stream.DailyReport(restaurantID, date), report.DailyReport{RestaurantID: restaurantID, Date: date}, report.Fold)
	if err != nil {
		return report.DailyReport{}, err
	}
	if n == 0 {
		return report.DailyReport{}, storage.NotFoundError("daily report")
	}
	return state, nil
}

// PublishRequest publishes a new template version.
type PublishRequest struct {
	RestaurantID string
	Name         string
	Fields       []string
	Body         string
	Actor        requestctx.Actor
}

// PublishTemplate appends a new version of a named template. The version id
// is the publication time in Unix milliseconds, bumped past the previous
// version when both fall in the same millisecond. Concurrent publishers
// race on the stream version; the loser gets a conflict and may retry.
func (s *Service) PublishTemplate(ctx context.Context, req PublishRequest) (template.Version, error) {
	restaurantID := strings.TrimSpace(req.RestaurantID)
	if restaurantID == "" {
		return template.Version{}, invalidArgument("restaurantId", "is required")
	}
	name, err := templateName(req.Name)
	if err != nil {
		return template.Version{}, err
	}

	streamID := stream.Template(restaurantID, name)
	current, _, err := replay.Stream(ctx, s.ledger, streamID, template.Template{}, template.Fold)
	if err != nil {
		return template.Version{}, err
	}
	rev := template.NextRev(current.LastRev(), s.now())
	fields := make([]string, 0, len(req.Fields))
	for _, f := range req.Fields {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	stored, err := s.append(withActor(ctx, req.Actor), streamID, event.TypeTemplateVersionPublished, restaurantID, rev,
		&event.TemplateVersionPublishedPayload{
			RestaurantID: restaurantID,
			Name:         name,
			VersionID:    template.VersionID(rev),
			Fields:       fields,
			Body:         req.Body,
		}, journal.ExpectVersion(current.StreamVersion))
	if err != nil {
		return template.Version{}, err
	}
	s.logger.Info("template version published",
		zap.String("restaurant_id", restaurantID),
		zap.String("template", name),
		zap.String("version_id", template.VersionID(rev)),
	)
	return template.Version{
		VersionID:   template.VersionID(rev),
		PublishedAt: stored.OccurredAt,
		PublishedBy: stored.Meta.ActorID,
		Fields:      fields,
		Body:        req.Body,
	}, nil
}

// GetTemplate replays a template's versions.
func (s *Service) GetTemplate(ctx context.Context, restaurantID, name string) (template.Template, error) {
	restaurantID = strings.TrimSpace(restaurantID)
	if restaurantID == "" {
		return template.Template{}, invalidArgument("restaurantId", "is required")
	}
	name, err := templateName(name)
	if err != nil {
		return template.Template{}, err
	}
	state, _, err := replay.Stream(ctx, s.ledger, stream.Template(restaurantID, name), template.Template{RestaurantID: restaurantID, Name: name}, template.Fold)
	if err != nil {
		return template.Template{}, err
	}
	if len(state.Versions) == 0 {
		return template.Template{}, storage.NotFoundError("template")
	}
	return state, nil
}

func (s *Service) append(ctx context.Context, streamID string, typ event.Type, restaurantID string, occurredAt time.Time, payload event.Payload, opts ...journal.AppendOption) (event.Event, error) {
	data, err := event.MarshalPayload(payload)
	if err != nil {
		return event.Event{}, apperrors.Wrap(apperrors.CodeInvalidEvent, "invalid event payload", err)
	}
	return s.ledger.Append(ctx, event.Event{
		StreamID:    streamID,
		Type:        typ,
		PayloadJSON: data,
		Meta:        event.Meta{RestaurantID: restaurantID},
		OccurredAt:  occurredAt,
	}, opts...)
}

func reportKey(rawRestaurant, rawDate string) (string, string, error) {
	restaurantID := strings.TrimSpace(rawRestaurant)
	if restaurantID == "" {
		return "", "", invalidArgument("restaurantId", "is required")
	}
	day, err := stream.ParseDate(rawDate)
	if err != nil {
		return "", "", apperrors.WrapWithMetadata(apperrors.CodeInvalidDate, "date must be YYYY-MM-DD",
			map[string]string{"Date": rawDate}, err)
	}
	return restaurantID, day.Format(stream.DateLayout), nil
}

func templateName(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return "", invalidArgument("name", "is required")
	}
	if strings.ContainsAny(name, " \t\n/") {
		return "", invalidArgument("name", "must not contain whitespace or slashes")
	}
	return name, nil
}

func withActor(ctx context.Context, actor requestctx.Actor) context.Context {
	if actor.IsZero() {
		return ctx
	}
	return requestctx.WithActor(ctx, actor)
}

func invalidArgument(field, reason string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidArgument, field+" "+reason,
		map[string]string{"Field": field, "Reason": reason})
}
