package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"text/tabwriter"

	// Drivers that run can profile.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sarchlab/sqlprof/config"
	"github.com/sarchlab/sqlprof/metrics"
	"github.com/sarchlab/sqlprof/profiling"
	"github.com/sarchlab/sqlprof/sqltracking"
	"github.com/sarchlab/sqlprof/sqlwrap"
)

var drivers = map[string]bool{
	"sqlite3":  true,
	"postgres": true,
	"mysql":    true,
}

var readKeywords = []string{"SELECT", "WITH", "SHOW", "PRAGMA", "EXPLAIN", "VALUES"}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run SQL statements and record a profiling session.",
	Long: "`run --driver sqlite3 --dsn app.db --query 'SELECT ...'` runs " +
		"the statements in order, each in its own step, and saves the " +
		"session. Statements that return rows are read to the end.",
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("driver", "sqlite3",
		"Database driver, one of sqlite3, postgres and mysql")
	runCmd.Flags().String("dsn", "", "Data source name")
	runCmd.Flags().StringArrayP("query", "q", nil,
		"Statement to run, can be repeated")
	runCmd.Flags().String("name", "sqlprof run", "Name of the session")
	runCmd.Flags().String("user", "", "User the session belongs to")
	runCmd.Flags().String("metrics-file", "",
		"Write the operation metrics to this file in the Prometheus text format")
	_ = runCmd.MarkFlagRequired("dsn")
	_ = runCmd.MarkFlagRequired("query")
}

func runRun(cmd *cobra.Command, _ []string) error {
	driver, _ := cmd.Flags().GetString("driver")
	if !drivers[driver] {
		return fmt.Errorf("unsupported driver %q", driver)
	}

	dsn, _ := cmd.Flags().GetString("dsn")
	queries, _ := cmd.Flags().GetStringArray("query")
	name, _ := cmd.Flags().GetString("name")
	user, _ := cmd.Flags().GetString("user")
	metricsFile, _ := cmd.Flags().GetString("metrics-file")

	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := sqlwrap.Open(driver, dsn, sqlwrap.WithLogger(logger))
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := openStore(settings, logger, true)
	if err != nil {
		return err
	}
	defer store.Close()

	collector := metrics.NewCollector()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)

	opts := []profiling.Option{
		profiling.WithUser(user),
		profiling.WithLogger(logger),
		profiling.WithObserver(collector),
		profiling.WithTrackerOptions(
			sqltracking.WithMaxInFlightAge(settings.MaxInFlightAge)),
	}

	if settings.ClickHouseAddr != "" {
		sink, err := metrics.NewClickHouseSink(cmd.Context(), metrics.ClickHouseOptions{
			Addr:      settings.ClickHouseAddr,
			Database:  settings.ClickHouseDatabase,
			Username:  settings.ClickHouseUsername,
			Password:  settings.ClickHousePassword,
			BatchSize: 1000,
		}, metrics.WithSinkLogger(logger))
		if err != nil {
			return err
		}
		defer sink.Close()

		opts = append(opts, profiling.WithObserver(sink))
	}

	p := profiling.Start(name, opts...)
	ctx := profiling.NewContext(cmd.Context(), p)

	for i, q := range queries {
		step := p.Step(fmt.Sprintf("statement %d", i+1))
		n, err := runStatement(ctx, db, q)
		step.Stop()

		if err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}

		logger.Debug("statement done", zap.Int("statement", i+1), zap.Int64("rows", n))
	}

	p.Stop()

	if err := store.Save(ctx, p); err != nil {
		return err
	}

	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, reg); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}

	printSession(cmd.OutOrStdout(), p, settings)

	return nil
}

func runStatement(ctx context.Context, db *sqlwrap.DB, query string) (int64, error) {
	if !returnsRows(query) {
		res, err := db.ExecContext(ctx, query)
		if err != nil {
			return 0, err
		}

		return res.RowsAffected()
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var n int64
	for rows.Next() {
		n++
	}

	return n, rows.Err()
}

func returnsRows(query string) bool {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return false
	}

	first := strings.ToUpper(strings.TrimLeft(fields[0], "("))
	for _, k := range readKeywords {
		if first == k {
			return true
		}
	}

	return false
}

func printSession(w io.Writer, p *profiling.Profiler, settings config.Settings) {
	fmt.Fprintf(w, "Session %s took %.1f ms\n", p.ID, p.DurationMilliseconds)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tKIND\tMS\tFIRST FETCH MS\tSTATEMENT")

	for _, t := range p.Timings() {
		for _, s := range t.SQLTimings {
			if !settings.ShowTrivial &&
				s.DurationMilliseconds < settings.TrivialMilliseconds {
				continue
			}

			fmt.Fprintf(tw, "%s\t%s\t%.1f\t%.1f\t%s\n",
				t.Name, s.ExecuteType, s.DurationMilliseconds,
				s.FirstFetchDurationMilliseconds, s.CommandString)
		}
	}

	_ = tw.Flush()

	fmt.Fprintf(w, "Results: %sresults?id=%s\n", resultsBase(settings), p.ID)
}

// resultsBase is where serve shows results when it runs on this machine with
// the same settings.
func resultsBase(settings config.Settings) string {
	host := "localhost"
	if _, port, err := net.SplitHostPort(settings.ListenAddr); err == nil && port != "" {
		host = net.JoinHostPort(host, port)
	}

	return "http://" + host + settings.RouteBasePath
}
