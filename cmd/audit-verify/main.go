// Command audit-verify checks the integrity of the helpdesk audit chain
// over a time window and prints the verification report.
//
// It reads the same environment configuration as helpdesk-api and opens
// the audit store directly, so it works while the API is down. The store
// must already exist; audit-verify never creates or migrates the schema.
//
// Exit status: 0 when the window is intact, 1 when any entry is broken,
// 2 on usage, configuration or store errors.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/upb/helpdesk/config"
	"github.com/upb/helpdesk/internal/chainhash"
	"github.com/upb/helpdesk/internal/observability"
	"github.com/upb/helpdesk/models"
	"github.com/upb/helpdesk/repositories/store"
	"github.com/upb/helpdesk/services/audit"
	"github.com/upb/helpdesk/utils"
)

// Exit codes
const (
	exitIntact = 0
	exitBroken = 1
	exitError  = 2
)

type options struct {
	start     string
	end       string
	batchSize int
	output    string
	logLevel  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts options

	flagSet := pflag.NewFlagSet("audit-verify", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.start, "start", "", "start of the window, ISO-8601 date or date-time (required)")
	flagSet.StringVar(&opts.end, "end", "", "end of the window, ISO-8601 (default: now; a date covers the whole day)")
	flagSet.IntVar(&opts.batchSize, "batch-size", 0, "entries loaded per batch (default: AUDIT_VERIFY_BATCH_SIZE)")
	flagSet.StringVarP(&opts.output, "output", "o", "text", "report format: text or json")
	flagSet.StringVar(&opts.logLevel, "log-level", "warn", "log level for diagnostics on stderr")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitIntact
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
	if flagSet.NArg() > 0 {
		fmt.Fprintf(stderr, "error: unexpected argument: %s\n", flagSet.Arg(0))
		return exitError
	}

	report, err := verify(ctx, opts, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}

	if err := writeReport(stdout, report, opts.output); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}

	if !report.Valid {
		return exitBroken
	}
	return exitIntact
}

func verify(ctx context.Context, opts options, stderr io.Writer) (*models.VerificationReport, error) {
	if opts.output != "text" && opts.output != "json" {
		return nil, fmt.Errorf("--output must be text or json, got %q", opts.output)
	}
	if opts.start == "" {
		return nil, errors.New("--start is required")
	}
	if opts.batchSize < 0 {
		return nil, errors.New("--batch-size must not be negative")
	}

	end := opts.end
	if end == "" {
		end = time.Now().UTC().Format(time.RFC3339Nano)
	}
	start, endTime, err := utils.ParseISO8601Range(opts.start, end)
	if err != nil {
		return nil, err
	}
	if endTime.Before(start) {
		return nil, errors.New("--end must not be before --start")
	}

	logger, err := observability.NewWriterLogger(opts.logLevel, stderr)
	if err != nil {
		return nil, err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.New(ctx)
	if err != nil {
		return nil, err
	}

	batchSize := cfg.Audit.VerifyBatchSize
	if opts.batchSize > 0 {
		batchSize = opts.batchSize
	}

	digester, err := chainhash.NewDigester(cfg.Audit.HashAlgorithm, []byte(cfg.Audit.HashKey))
	if err != nil {
		return nil, err
	}

	factory, err := store.Open(ctx, cfg, logger, store.WithoutSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}
	defer func() { _ = factory.Close() }()

	chain := audit.NewChain(factory.NewRepositories(), digester, nil, nil, logger, audit.Config{
		BatchSize:   batchSize,
		MaxReported: cfg.Audit.VerifyMaxReported,
	})

	return chain.Verify(ctx, start, endTime)
}

func writeReport(w io.Writer, report *models.VerificationReport, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	status := "INTACT"
	if !report.Valid {
		status = "BROKEN"
	}
	fmt.Fprintf(w, "audit chain %s (%s)\n", status, report.Algorithm)
	fmt.Fprintf(w, "window:  %s .. %s\n", report.StartDate.Format(time.RFC3339Nano), report.EndDate.Format(time.RFC3339Nano))
	fmt.Fprintf(w, "checked: %d  valid: %d  broken: %d\n", report.TotalChecked, report.ValidCount, report.BrokenCount)
	if report.FirstBrokenSequence != nil {
		fmt.Fprintf(w, "first broken sequence: %d\n", *report.FirstBrokenSequence)
	}
	for _, e := range report.BrokenEntries() {
		fmt.Fprintf(w, "  #%d %s %s\n", e.SequenceNumber, e.Reason, e.Action)
	}
	if report.EntriesTruncated {
		fmt.Fprintln(w, "(per-entry results truncated)")
	}
	return nil
}
