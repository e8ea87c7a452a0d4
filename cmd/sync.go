package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertex-labs/crmsync/internal/engine"
	"github.com/vertex-labs/crmsync/internal/ledger"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push unassigned warehouse contacts to the CRM",
	Long: `Push unassigned warehouse contacts to the CRM.

Pages through unassigned rows, creates or updates the remote contact,
writes the proposal note and opportunity, and writes the remote ids back
to the warehouse. Rows the CRM rejects as duplicates are flagged so later
runs skip them without a remote call.

The run summary, data export and error CSV are written to --out on exit,
including on interrupt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := zap.L().With(zap.String("command", "sync"))

		limit, err := parseLimit(cmd)
		if err != nil {
			return err
		}
		concurrency := intFlagOr(cmd, "concurrency", cfg.Sync.Concurrency)
		pageSize := intFlagOr(cmd, "page-size", cfg.Sync.PageSize)
		startOffset, _ := cmd.Flags().GetInt("start-offset")
		outDir, _ := cmd.Flags().GetString("out")
		if outDir == "" {
			outDir = cfg.Sync.OutDir
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		crm, quota, err := initCRM()
		if err != nil {
			return err
		}

		led := ledger.New(ledger.Options{
			OutDir:        outDir,
			Label:         "contact-sync",
			ProgressEvery: cfg.Sync.ProgressEvery,
			StatusOut:     os.Stderr,
			Quota:         quota,
		})
		defer led.Flush(1)

		eng := engine.New(st, crm, led, engine.Config{
			Concurrency: concurrency,
			PageSize:    pageSize,
			Limit:       limit,
			StartOffset: startOffset,
			Rating:      cfg.Sync.Rating,
			Stage:       cfg.Sync.Stage,
			LocationID:  cfg.GHL.LocationID,
			NoteUserID:  cfg.GHL.NoteUserID,
			Retry:       cfg.Retry.Resilience(),
		})

		log.Info("starting sync",
			zap.Int("limit", limit),
			zap.Int("concurrency", concurrency),
			zap.Int("page_size", pageSize),
			zap.Int("start_offset", startOffset),
		)

		runErr := eng.Run(ctx)
		exitCode := 0
		if runErr != nil {
			exitCode = 1
		}
		led.Flush(exitCode)

		if runErr != nil {
			return eris.Wrap(runErr, "sync")
		}

		processed, ok, fail, dup := led.Totals()
		fmt.Printf("Sync complete: %d processed (%d ok, %d failed, %d duplicates)\n", processed, ok, fail, dup)
		return nil
	},
}

func init() {
	syncCmd.Flags().String("limit", "all", `max records to process, or "all"`)
	syncCmd.Flags().Int("concurrency", 0, "records in flight at once (default from config)")
	syncCmd.Flags().Int("page-size", 0, "extraction page size (default from config)")
	syncCmd.Flags().Int("start-offset", 0, "skip this many rows before the first page")
	syncCmd.Flags().String("out", "", "artifact output directory (default from config)")
	rootCmd.AddCommand(syncCmd)
}

// intFlagOr reads an int flag, falling back to the config value when the
// flag was not set on the command line.
func intFlagOr(cmd *cobra.Command, name string, fallback int) int {
	if !cmd.Flags().Changed(name) {
		return fallback
	}
	n, _ := cmd.Flags().GetInt(name)
	return n
}

// parseLimit reads the --limit flag, accepting "all" for unbounded.
func parseLimit(cmd *cobra.Command) (int, error) {
	raw, _ := cmd.Flags().GetString("limit")
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" || raw == "all" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, eris.Errorf(`--limit must be a non-negative integer or "all", got %q`, raw)
	}
	return n, nil
}
