package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"estimo/server/internal/database"
	"estimo/server/internal/importer"
	"estimo/server/internal/metrics"
	"estimo/server/internal/models"
	"estimo/server/internal/processor"
	"estimo/server/internal/queue"
)

var importOptions struct {
	dbPath         string
	batchSize      int
	comma          string
	apartmentsOnly bool
	metricsFile    string
}

var importCmd = &cobra.Command{
	Use:   "import <fichier.csv>",
	Short: "Importe un export DVF dans la base des ventes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		comma, size := utf8.DecodeRuneInString(importOptions.comma)
		if size == 0 || size != len(importOptions.comma) {
			return fmt.Errorf("--comma must be a single character, got %q", importOptions.comma)
		}

		dbPath := cfg.Database.Path
		if importOptions.dbPath != "" {
			dbPath = importOptions.dbPath
		}
		batchSize := cfg.BatchProcessing.MaxBatchSize
		if importOptions.batchSize > 0 {
			batchSize = importOptions.batchSize
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer f.Close()

		db, err := database.NewDatabase(dbPath, logger)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()
		if err := db.RunMigrations(); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		m := metrics.New()
		q := queue.NewSaleQueue(cfg.BatchProcessing.QueueSize, logger)
		p := processor.NewBatchProcessor(db.GetDB(), q, cfg, logger)
		p.OnWritten(m.AddImported)
		p.Start()

		var r io.Reader = f
		var bar *progressbar.ProgressBar
		if isatty.IsTerminal(os.Stderr.Fd()) {
			var total int64 = -1
			if st, err := f.Stat(); err == nil {
				total = st.Size()
			}
			bar = progressbar.NewOptions64(total,
				progressbar.OptionSetDescription("Importing "+filepath.Base(args[0])),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowBytes(true),
				progressbar.OptionClearOnFinish(),
			)
			r = io.TeeReader(f, bar)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		opts := importer.Options{
			BatchSize: batchSize,
			Comma:     comma,
		}
		if importOptions.apartmentsOnly {
			opts.PropertyTypes = []int{int(models.PropertyTypeApartment)}
		}

		stats, err := importer.New(q, opts, logger).Import(ctx, r)
		if err != nil {
			p.Abort()
		}
		p.Stop()
		if bar != nil {
			_ = bar.Finish()
		}
		for reason, n := range stats.Skipped {
			m.AddSkipped(reason, n)
		}
		if importOptions.metricsFile != "" {
			if werr := prometheus.WriteToTextfile(importOptions.metricsFile, m.Registry()); werr != nil {
				logger.WithError(werr).Warn("Failed to write metrics file")
			}
		}
		if err != nil {
			return fmt.Errorf("importing %s: %w", args[0], err)
		}

		total, err := db.CountSales(cmd.Context())
		if err != nil {
			return fmt.Errorf("counting sales: %w", err)
		}
		printImportStats(cmd.OutOrStdout(), stats, p.Written(), p.Failed(), total)

		if p.Failed() > 0 {
			return fmt.Errorf("%d sales could not be written", p.Failed())
		}
		return nil
	},
}

func printImportStats(w io.Writer, stats importer.Stats, written, failed, total int64) {
	fmt.Fprintf(w, "Lignes lues:      %d\n", stats.Rows)
	fmt.Fprintf(w, "Ventes retenues:  %d\n", stats.Accepted)
	fmt.Fprintf(w, "Ventes écrites:   %d\n", written)
	if failed > 0 {
		fmt.Fprintf(w, "Ventes en échec:  %d\n", failed)
	}
	fmt.Fprintf(w, "Lignes ignorées:  %d\n", stats.SkippedTotal())

	reasons := make([]string, 0, len(stats.Skipped))
	for reason := range stats.Skipped {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(w, "  %-14s %d\n", reason, stats.Skipped[reason])
	}
	fmt.Fprintf(w, "Ventes en base:   %d\n", total)
}

func init() {
	f := importCmd.Flags()
	f.StringVar(&importOptions.dbPath, "db", "", "chemin de la base SQLite (DATABASE_PATH par défaut)")
	f.IntVar(&importOptions.batchSize, "batch-size", 0, "nombre de ventes par transaction (BATCH_MAX_SIZE par défaut)")
	f.StringVar(&importOptions.comma, "comma", ",", "séparateur de champs")
	f.BoolVar(&importOptions.apartmentsOnly, "apartments-only", false, "ne garder que les appartements (code_type_local 2)")
	f.StringVar(&importOptions.metricsFile, "metrics-file", "", "écrit les métriques de l'import au format texte Prometheus")

	rootCmd.AddCommand(importCmd)
}
