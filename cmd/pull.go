package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertex-labs/crmsync/internal/engine"
	"github.com/vertex-labs/crmsync/internal/ledger"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull CRM contacts into the warehouse",
	Long: `Pull CRM contacts into the warehouse star schema.

Walks the CRM contact search cursor, inserting unknown contacts and
updating known ones. Freshly inserted rows get a warehouse-generated
proposal link written back to the contact as a note.

To resume an interrupted run, pass --start-page and --search-after from
the previous run's summary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := zap.L().With(zap.String("command", "pull"))

		limit, err := parseLimit(cmd)
		if err != nil {
			return err
		}
		concurrency := intFlagOr(cmd, "concurrency", cfg.Sync.Concurrency)
		pageLimit := intFlagOr(cmd, "page-limit", cfg.Sync.PageSize)
		startPage, _ := cmd.Flags().GetInt("start-page")
		searchAfterRaw, _ := cmd.Flags().GetString("search-after")
		outDir, _ := cmd.Flags().GetString("out")
		if outDir == "" {
			outDir = cfg.Sync.OutDir
		}

		var searchAfter []any
		if searchAfterRaw != "" {
			if err := json.Unmarshal([]byte(searchAfterRaw), &searchAfter); err != nil {
				return eris.Wrap(err, "--search-after must be the cursor JSON from a previous summary")
			}
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "pull: migrate")
		}

		crm, quota, err := initCRM()
		if err != nil {
			return err
		}

		led := ledger.New(ledger.Options{
			OutDir:        outDir,
			Label:         "contact-pull",
			ProgressEvery: cfg.Sync.ProgressEvery,
			StatusOut:     os.Stderr,
			Quota:         quota,
		})
		defer led.Flush(1)

		puller := engine.NewPuller(st, crm, led, engine.PullConfig{
			Concurrency: concurrency,
			PageLimit:   pageLimit,
			Limit:       limit,
			StartPage:   startPage,
			SearchAfter: searchAfter,
			LocationID:  cfg.GHL.LocationID,
			NoteUserID:  cfg.GHL.NoteUserID,
			Retry:       cfg.Retry.Resilience(),
		})

		log.Info("starting pull",
			zap.Int("limit", limit),
			zap.Int("concurrency", concurrency),
			zap.Int("page_limit", pageLimit),
			zap.Int("start_page", startPage),
		)

		runErr := puller.Run(ctx)
		exitCode := 0
		if runErr != nil {
			exitCode = 1
		}
		led.Flush(exitCode)

		if runErr != nil {
			return eris.Wrap(runErr, "pull")
		}

		processed, ok, fail, dup := led.Totals()
		fmt.Printf("Pull complete: %d processed (%d ok, %d failed, %d duplicates)\n", processed, ok, fail, dup)
		return nil
	},
}

func init() {
	pullCmd.Flags().String("limit", "all", `max contacts to process, or "all"`)
	pullCmd.Flags().Int("concurrency", 0, "contacts in flight at once (default from config)")
	pullCmd.Flags().Int("page-limit", 0, "search page size (default from config)")
	pullCmd.Flags().Int("start-page", 1, "search page to resume from")
	pullCmd.Flags().String("search-after", "", "cursor JSON from a previous run's summary")
	pullCmd.Flags().String("out", "", "artifact output directory (default from config)")
	rootCmd.AddCommand(pullCmd)
}
