package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pairsync/pairsync/internal/abook"
	"github.com/pairsync/pairsync/internal/crm"
	"github.com/pairsync/pairsync/internal/engine"
	"github.com/pairsync/pairsync/internal/store"
	"github.com/pairsync/pairsync/internal/telemetry"
	"github.com/pairsync/pairsync/internal/ui"
)

var (
	andSyncBack bool
	andCheck    bool
)

var initialCmd = &cobra.Command{
	Use:   "initial",
	Short: "Reset the pairing database and match contacts across both sides",
	Long: `Resets the pairing database, matches every address book contact against
the CRM (asking when matching is ambiguous), and runs the first full sync.
Unmatched address book contacts can be created on the CRM side.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
			if err := e.Initial(ctx); err != nil {
				return err
			}
			return afterSync(ctx, e)
		})
	},
}

var fullCmd = &cobra.Command{
	Use:   "full",
	Short: "Sync every paired contact from the address book to the CRM",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
			if err := e.Full(ctx); err != nil {
				return hintInitial(err)
			}
			return afterSync(ctx, e)
		})
	},
}

var deltaCmd = &cobra.Command{
	Use:   "delta",
	Short: "Sync only the contacts changed since the last run",
	Long: `Fetches the address book change feed from the stored cursor and syncs
only what changed. Degrades to a full sync when no cursor is stored or
the feed no longer honors it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
			if err := e.Delta(ctx); err != nil {
				return hintInitial(err)
			}
			return afterSync(ctx, e)
		})
	},
}

var syncBackCmd = &cobra.Command{
	Use:   "sync-back",
	Short: "Create address book entries for CRM-only contacts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
			return e.SyncBack(ctx)
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Cross-validate the pairing database without writing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
			return runCheck(ctx, e)
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{initialCmd, fullCmd, deltaCmd} {
		cmd.Flags().BoolVar(&andSyncBack, "sync-back", false, "also create address book entries for CRM-only contacts")
		cmd.Flags().BoolVar(&andCheck, "check", false, "also run a consistency check afterwards")
	}
}

// afterSync chains the optional sync-back and check passes onto a full
// or delta run.
func afterSync(ctx context.Context, e *engine.Engine) error {
	if andSyncBack {
		if err := e.SyncBack(ctx); err != nil {
			return err
		}
	}
	if andCheck {
		return runCheck(ctx, e)
	}
	return nil
}

func runCheck(ctx context.Context, e *engine.Engine) error {
	report, err := e.Check(ctx)
	if err != nil {
		return err
	}
	fmt.Print(ui.RenderMarkdown(ui.CheckReportMarkdown(report)))
	if report.Errors > 0 {
		return fmt.Errorf("check found %d dangling pairing(s)", report.Errors)
	}
	return nil
}

// withEngine wires config, logging, telemetry, store, both connectors
// and the interactive port into an engine, runs fn, and prints the run
// summary.
func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	log, closeLog, err := openLog()
	if err != nil {
		return err
	}
	defer closeLog()

	st, err := store.Open(ctx, cfg.Sync.Database, log)
	if err != nil {
		return fmt.Errorf("opening pairing database: %w", err)
	}
	defer st.Close()
	st = telemetry.WrapStore(st)

	ab := abook.New(abook.Config{
		BaseURL:       cfg.ABook.BaseURL,
		Token:         cfg.ABook.Token,
		IncludeLabels: cfg.ABook.Labels.Include,
		ExcludeLabels: cfg.ABook.Labels.Exclude,
	}, log)
	cr := crm.New(crm.Config{
		BaseURL:       cfg.CRM.BaseURL,
		Token:         cfg.CRM.Token,
		IncludeLabels: cfg.CRM.Labels.Include,
		ExcludeLabels: cfg.CRM.Labels.Exclude,
	}, log)

	e := engine.New(st, ab, cr, &ui.Port{AssumeYes: assumeYes}, log, engine.Options{
		DeleteOnSync:    cfg.Sync.DeleteOnSync,
		StreetReversal:  cfg.Sync.StreetReversal,
		CreateReminders: cfg.CRM.CreateReminders,
		Fields:          cfg.Sync.Fields,
	})
	if !quiet {
		e.OnProgress = func(msg string) { fmt.Println(msg) }
		e.OnWarning = func(msg string) { fmt.Println(ui.WarnStyle.Render(ui.IconWarn + " " + msg)) }
	} else {
		e.OnWarning = func(msg string) { fmt.Fprintln(os.Stderr, msg) }
	}

	runErr := fn(ctx, e)
	if runErr == nil && !quiet {
		fmt.Println(ui.RenderStats(e.Stats()))
	}
	return runErr
}

// openLog opens the configured log file for appending. Every run logs
// there; the console stays reserved for progress and prompts.
func openLog() (*slog.Logger, func(), error) {
	f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	log.Info("run starting", "version", version, "time", time.Now().Format(time.RFC3339))
	return log, func() { f.Close() }, nil
}

// hintInitial decorates the no-pairings error with the fix.
func hintInitial(err error) error {
	if errors.Is(err, engine.ErrNoMapping) {
		return fmt.Errorf("%w; run \"pairsync initial\" first", err)
	}
	return err
}
