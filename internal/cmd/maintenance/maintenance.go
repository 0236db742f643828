// Package maintenance runs offline repair tasks against the ledger databases:
// chain verification, projection rebuilds and dead letter handling.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	entrypoint "github.com/louisbranch/brigade/internal/platform/cmd"
	"github.com/louisbranch/brigade/internal/platform/logging"
	server "github.com/louisbranch/brigade/internal/services/ledger/app"
	"github.com/louisbranch/brigade/internal/services/ledger/projection"
)

// Commands understood by Run.
const (
	CommandVerify           = "verify"
	CommandRebuild          = "rebuild"
	CommandDeadLetters      = "dead-letters"
	CommandReplayDeadLetter = "replay-dead-letter"
)

// Config holds maintenance command configuration.
type Config struct {
	EventsDBPath      string        `env:"BRIGADE_EVENTS_DB_PATH" envDefault:"data/events.db"`
	ProjectionsDBPath string        `env:"BRIGADE_PROJECTIONS_DB_PATH" envDefault:"data/projections.db"`
	Timeout           time.Duration `env:"BRIGADE_MAINTENANCE_TIMEOUT" envDefault:"10m"`
	Logging           logging.Config

	Limit      int
	JSONOutput bool

	Command string
	Args    []string
}

// ParseConfig parses environment, flags and the trailing command into a
// Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Limit = 100

	fs.StringVar(&cfg.EventsDBPath, "events-db-path", cfg.EventsDBPath, "path to events sqlite database")
	fs.StringVar(&cfg.ProjectionsDBPath, "projections-db-path", cfg.ProjectionsDBPath, "path to projections sqlite database")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	fs.IntVar(&cfg.Limit, "limit", cfg.Limit, "max dead letters to list (0 = no limit)")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return Config{}, errors.New("command is required (verify|rebuild|dead-letters|replay-dead-letter)")
	}
	cfg.Command = rest[0]
	cfg.Args = rest[1:]
	if err := validateCommand(cfg.Command, cfg.Args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateCommand(command string, args []string) error {
	switch command {
	case CommandVerify:
		if len(args) != 0 {
			return fmt.Errorf("%s takes no arguments", command)
		}
	case CommandRebuild:
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <consumer>", command)
		}
	case CommandDeadLetters:
		if len(args) > 1 {
			return fmt.Errorf("usage: %s [consumer]", command)
		}
	case CommandReplayDeadLetter:
		if len(args) != 2 {
			return fmt.Errorf("usage: %s <consumer> <position>", command)
		}
		if _, err := parsePosition(args[1]); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

// Run opens the databases and executes the configured command.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if err := validateCommand(cfg.Command, cfg.Args); err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceMaintenance, entrypoint.RunOptions{Logger: logger}, func(ctx context.Context) error {
		runtime, err := server.Open(ctx, server.Config{
			EventsDBPath:      cfg.EventsDBPath,
			ProjectionsDBPath: cfg.ProjectionsDBPath,
		}, logger.Named(entrypoint.ServiceMaintenance))
		if err != nil {
			return err
		}
		defer runtime.Close()
		return execute(ctx, runtime, cfg, out)
	})
}

func execute(ctx context.Context, runtime *server.Runtime, cfg Config, out io.Writer) error {
	switch cfg.Command {
	case CommandVerify:
		return runVerify(ctx, runtime, cfg.JSONOutput, out)
	case CommandRebuild:
		return runRebuild(ctx, runtime, cfg.Args[0], cfg.JSONOutput, out)
	case CommandDeadLetters:
		consumer := ""
		if len(cfg.Args) == 1 {
			consumer = cfg.Args[0]
		}
		return runDeadLetters(ctx, runtime, consumer, cfg.Limit, cfg.JSONOutput, out)
	case CommandReplayDeadLetter:
		position, err := parsePosition(cfg.Args[1])
		if err != nil {
			return err
		}
		return runReplayDeadLetter(ctx, runtime, cfg.Args[0], position, cfg.JSONOutput, out)
	default:
		return fmt.Errorf("unknown command %q", cfg.Command)
	}
}

type verifyReport struct {
	Streams int `json:"streams"`
	Events  int `json:"events"`
}

func runVerify(ctx context.Context, runtime *server.Runtime, jsonOutput bool, out io.Writer) error {
	report, err := runtime.Ledger.VerifyIntegrity(ctx)
	if err != nil {
		return fmt.Errorf("verify event integrity: %w", err)
	}
	if jsonOutput {
		return writeJSON(out, verifyReport{Streams: report.Streams, Events: report.Events})
	}
	fmt.Fprintf(out, "verified %d events across %d streams\n", report.Events, report.Streams)
	return nil
}

type rebuildReport struct {
	Consumer     string `json:"consumer"`
	Applied      int    `json:"applied"`
	LastPosition uint64 `json:"last_position"`
}

func runRebuild(ctx context.Context, runtime *server.Runtime, consumer string, jsonOutput bool, out io.Writer) error {
	projector, err := lookupProjector(runtime, consumer)
	if err != nil {
		return err
	}
	result, err := projection.Rebuild(ctx, runtime.Ledger, runtime.Projections, projector)
	if err != nil {
		return err
	}
	report := rebuildReport{Consumer: projector.Consumer(), Applied: result.Applied, LastPosition: result.LastPosition}
	if jsonOutput {
		return writeJSON(out, report)
	}
	fmt.Fprintf(out, "rebuilt %s: applied %d events through position %d\n", report.Consumer, report.Applied, report.LastPosition)
	return nil
}

type deadLetterRow struct {
	Consumer  string    `json:"consumer"`
	Position  uint64    `json:"position"`
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}

func runDeadLetters(ctx context.Context, runtime *server.Runtime, consumer string, limit int, jsonOutput bool, out io.Writer) error {
	consumer = strings.TrimSpace(consumer)
	if consumer != "" {
		if _, err := lookupProjector(runtime, consumer); err != nil {
			return err
		}
	}
	letters, err := runtime.Projections.ListDeadLetters(ctx, consumer, limit)
	if err != nil {
		return fmt.Errorf("list dead letters: %w", err)
	}
	rows := make([]deadLetterRow, 0, len(letters))
	for _, letter := range letters {
		rows = append(rows, deadLetterRow{
			Consumer:  letter.Consumer,
			Position:  letter.Position,
			EventID:   letter.EventID,
			EventType: string(letter.EventType),
			Attempts:  letter.Attempts,
			LastError: letter.LastError,
			FailedAt:  letter.FailedAt.UTC(),
		})
	}
	if jsonOutput {
		return writeJSON(out, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "no dead letters")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONSUMER\tPOSITION\tTYPE\tATTEMPTS\tFAILED AT\tERROR")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\t%s\n",
			row.Consumer, row.Position, row.EventType, row.Attempts,
			row.FailedAt.Format(time.RFC3339), row.LastError)
	}
	return tw.Flush()
}

type replayReport struct {
	Consumer  string `json:"consumer"`
	Position  uint64 `json:"position"`
	EventType string `json:"event_type"`
}

// runReplayDeadLetter applies one dead-lettered event. Store-backed
// projectors clear the letter in the apply transaction; the explicit delete
// covers consumers without a projection store, such as the audit export.
func runReplayDeadLetter(ctx context.Context, runtime *server.Runtime, consumer string, position uint64, jsonOutput bool, out io.Writer) error {
	projector, err := lookupProjector(runtime, consumer)
	if err != nil {
		return err
	}
	letter, err := runtime.Projections.GetDeadLetter(ctx, projector.Consumer(), position)
	if err != nil {
		return fmt.Errorf("get dead letter %s@%d: %w", projector.Consumer(), position, err)
	}
	evt, err := runtime.Ledger.GetEventByPosition(ctx, letter.Position)
	if err != nil {
		return fmt.Errorf("load event %d: %w", letter.Position, err)
	}
	if err := projector.Apply(ctx, evt); err != nil {
		return fmt.Errorf("apply %s@%d: %w", projector.Consumer(), letter.Position, err)
	}
	if err := runtime.Projections.DeleteDeadLetter(ctx, projector.Consumer(), letter.Position); err != nil {
		return fmt.Errorf("delete dead letter %s@%d: %w", projector.Consumer(), letter.Position, err)
	}
	report := replayReport{Consumer: projector.Consumer(), Position: letter.Position, EventType: string(evt.Type)}
	if jsonOutput {
		return writeJSON(out, report)
	}
	fmt.Fprintf(out, "replayed %s at position %d into %s\n", report.EventType, report.Position, report.Consumer)
	return nil
}

func lookupProjector(runtime *server.Runtime, consumer string) (projection.Projector, error) {
	projector, ok := runtime.Projector(consumer)
	if ok {
		return projector, nil
	}
	known := make([]string, 0, len(runtime.Projectors))
	for _, p := range runtime.Projectors {
		known = append(known, p.Consumer())
	}
	slices.Sort(known)
	return nil, fmt.Errorf("unknown consumer %q (known: %s)", consumer, strings.Join(known, ", "))
}

func parsePosition(raw string) (uint64, error) {
	position, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || position == 0 {
		return 0, fmt.Errorf("position must be a positive integer, got %q", raw)
	}
	return position, nil
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
