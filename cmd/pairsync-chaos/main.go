// Command pairsync-chaos mutates the two remote sides in seeded
// pseudo-random ways to exercise sync runs end to end, and restores
// everything afterwards. Strictly a development tool: point it at test
// accounts, never at real data.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pairsync/pairsync/internal/abook"
	"github.com/pairsync/pairsync/internal/chaos"
	"github.com/pairsync/pairsync/internal/config"
	"github.com/pairsync/pairsync/internal/crm"
	"github.com/pairsync/pairsync/internal/store"
	"github.com/pairsync/pairsync/internal/ui"
)

var (
	configPath string
	statePath  string
	num        int
	seed       int64

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pairsync-chaos",
	Short: "Seeded remote mutation for exercising pairsync end to end",
	Long: `pairsync-chaos prepares the remote sides for one sync scenario each:

  initial    seed matched pairs on both sides, some with rotated names
  delta      update and delete existing address book contacts
  full       update and recreate existing address book contacts
  syncback   create CRM-only contacts
  check      corrupt the pairing database
  restore    revert everything recorded in the state file

Mutations are recorded in the state file so restore can undo them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		return err
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "config file (default ./pairsync.yaml)")
	pf.StringVar(&statePath, "state", "chaos-state.json", "mutation state file")
	pf.IntVarP(&num, "num", "n", 3, "contacts to mutate per mode")
	pf.Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed (default: current time)")

	for _, m := range []struct {
		use, short string
		run        func(context.Context, *chaos.Harness) error
	}{
		{"initial", "Seed matched pairs on both sides", func(ctx context.Context, h *chaos.Harness) error { return h.Initial(ctx, num) }},
		{"delta", "Update and delete address book contacts", func(ctx context.Context, h *chaos.Harness) error { return h.Delta(ctx, num) }},
		{"full", "Update and recreate address book contacts", func(ctx context.Context, h *chaos.Harness) error { return h.Full(ctx, num) }},
		{"syncback", "Create CRM-only contacts", func(ctx context.Context, h *chaos.Harness) error { return h.SyncBack(ctx, num) }},
		{"check", "Corrupt the pairing database", func(ctx context.Context, h *chaos.Harness) error { return h.Check(ctx, num) }},
		{"restore", "Revert all recorded mutations", func(ctx context.Context, h *chaos.Harness) error { return h.Restore(ctx) }},
	} {
		rootCmd.AddCommand(&cobra.Command{
			Use:   m.use,
			Short: m.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withHarness(cmd.Context(), m.run)
			},
		})
	}
}

func withHarness(ctx context.Context, fn func(context.Context, *chaos.Harness) error) error {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	st, err := store.Open(ctx, cfg.Sync.Database, log)
	if err != nil {
		return fmt.Errorf("opening pairing database: %w", err)
	}
	defer st.Close()

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

	h, err := chaos.New(ab, cr, st, log, statePath, seed)
	if err != nil {
		return err
	}
	return fn(ctx, h)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, ui.FailStyle.Render(ui.IconFail+" "+err.Error()))
		os.Exit(1)
	}
}
