// Command pairsync syncs contacts between an address book and a
// personal CRM, keeping the pairing database that ties the two sides
// together.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pairsync/pairsync/internal/config"
	"github.com/pairsync/pairsync/internal/engine"
	"github.com/pairsync/pairsync/internal/telemetry"
	"github.com/pairsync/pairsync/internal/ui"
)

// version is stamped by the release build.
var version = "dev"

var (
	configPath string
	dbOverride string
	verbose    bool
	quiet      bool
	assumeYes  bool

	// Signal-aware context for graceful cancellation.
	rootCtx    context.Context
	rootCancel context.CancelFunc

	cfg *config.Config
)

const (
	exitErr     = 1
	exitAborted = 2
)

var rootCmd = &cobra.Command{
	Use:     "pairsync",
	Short:   "Two-way contact sync between an address book and a personal CRM",
	Version: version,
	Long: `pairsync keeps a personal CRM in step with an address book.

The address book is the authoritative side: its contact details overwrite
the CRM's on every sync. The pairing database records which contact on one
side belongs to which on the other; "pairsync initial" builds it, "full"
and "delta" keep both sides converged, "sync-back" creates address book
entries for CRM-only contacts, and "check" cross-validates everything
without writing.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dbOverride != "" {
			cfg.Sync.Database = dbOverride
		}
		return telemetry.Init(rootCtx, telemetry.Options{
			Enabled:  cfg.Telemetry.Enabled,
			Endpoint: cfg.Telemetry.Endpoint,
		}, "pairsync", version)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "config file (default ./pairsync.yaml)")
	pf.StringVar(&dbOverride, "db", "", "pairing database DSN (overrides sync.database)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log debug detail")
	pf.BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")
	pf.BoolVarP(&assumeYes, "yes", "y", false, "answer confirmations with yes")

	rootCmd.AddCommand(initialCmd, fullCmd, deltaCmd, syncBackCmd, checkCmd)
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		if errors.Is(err, engine.ErrAborted) || errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, ui.MutedStyle.Render("Aborted."))
			os.Exit(exitAborted)
		}
		fmt.Fprintln(os.Stderr, ui.FailStyle.Render(ui.IconFail+" "+err.Error()))
		if cfg != nil {
			fmt.Fprintln(os.Stderr, ui.MutedStyle.Render("See "+cfg.Log.File+" for details."))
		}
		os.Exit(exitErr)
	}
}
