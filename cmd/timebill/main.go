package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"timebill/internal/app"
	"timebill/internal/config"
	"timebill/internal/domain"
	"timebill/internal/report"
)

var version = "dev"

var (
	configPath string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newApp loads the config and wires the application. The caller must defer
// a.Close().
func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return app.New(ctx, newLogger(), cfg)
}

var rootCmd = &cobra.Command{
	Use:   "timebill",
	Short: "Aggregate desktop activity telemetry into billable time entries",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Init(configPath); err != nil {
			return err
		}
		fmt.Printf("Configuration initialized at %s\n", configPath)
		fmt.Println("Set rescuetime.api_key (or RESCUETIME_API_KEY) before fetching.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.ReadFromFile(configPath)
		if err != nil {
			return err
		}
		fmt.Printf("Configuration from %s:\n\n", configPath)
		return config.Write(os.Stdout, cfg)
	},
}

// fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch activity telemetry from RescueTime",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		current, _ := cmd.Flags().GetBool("current")
		force, _ := cmd.Flags().GetBool("force")

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if current {
			return a.FetchCurrentDay(ctx, force)
		}
		return a.Fetch(ctx, days)
	},
}

// process command
var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Aggregate unprocessed telemetry into time entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		debug, _ := cmd.Flags().GetBool("debug")

		var scope domain.Scope
		if date != "" {
			scope = domain.ForDate(date)
		} else {
			scope = domain.Scope{Start: from, End: to}
		}
		for _, d := range []string{scope.Start, scope.End} {
			if d != "" && !domain.ValidDate(d) {
				return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", d)
			}
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.Process(ctx, scope, debug)
		if err != nil {
			return err
		}

		if debug {
			fmt.Printf("Dry run: %d records selected, %d skipped, %d groups\n",
				summary.RecordsSelected, summary.RecordsSkipped, len(summary.Groups))
			for _, g := range summary.Groups {
				fmt.Printf("  %s  %-20s  %-50s  %4.1f units  %s  [%d records]\n",
					g.EntryDate, g.Application, g.TaskDescription,
					g.TimeUnits, report.FormatHHMMSS(g.TotalSeconds), g.RecordCount)
			}
		} else {
			fmt.Printf("Processed %d records into %d time entries\n",
				summary.RecordsConsumed, summary.EntriesWritten)
		}
		fmt.Printf("Time captured: %s of %s raw (%.2f%% leakage)\n",
			report.FormatHHMMSS(summary.ProcessedSeconds),
			report.FormatHHMMSS(summary.RawSeconds),
			summary.LeakagePercent())
		return nil
	},
}

// report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show time entries for a date",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")
		export, _ := cmd.Flags().GetString("export")

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if date == "" {
			date = a.Today()
		}
		if !domain.ValidDate(date) {
			return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
		}

		entries, err := a.Store.EntriesByDate(ctx, date)
		if err != nil {
			return err
		}
		report.Render(os.Stdout, date, entries)

		if export != "" {
			f, err := os.Create(export)
			if err != nil {
				return fmt.Errorf("creating export file: %w", err)
			}
			defer f.Close()
			if err := report.WriteCSV(f, entries); err != nil {
				return err
			}
			fmt.Printf("Exported %d entries to %s\n", len(entries), export)
		}
		return nil
	},
}

// update command
var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update a time entry's status or notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetInt64("id")
		if id < 1 {
			return errors.New("--id is required")
		}

		var patch domain.EntryPatch
		if cmd.Flags().Changed("status") {
			status, _ := cmd.Flags().GetString("status")
			if !domain.ValidStatus(status) {
				return fmt.Errorf("invalid status %q", status)
			}
			patch.Status = &status
		}
		if cmd.Flags().Changed("notes") {
			notes, _ := cmd.Flags().GetString("notes")
			patch.Notes = &notes
		}
		if patch.IsZero() {
			return errors.New("nothing to update, pass --status or --notes")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Store.UpdateEntry(ctx, id, patch); err != nil {
			return err
		}
		fmt.Printf("Updated entry %d\n", id)
		return nil
	},
}

// revert command
var revertCmd = &cobra.Command{
	Use:   "revert",
	Short: "Revert a time entry back to unprocessed telemetry",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetInt64("id")
		if id < 1 {
			return errors.New("--id is required")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Revert(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Reverted entry %d; run 'process' to re-aggregate\n", id)
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the periodic sync loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		interval, _ := cmd.Flags().GetDuration("interval")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if addr == "" {
			addr = a.Cfg.Server.Addr
		}
		srv := a.HTTPServer(addr)

		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		go a.RunPeriodic(ctx, interval)

		select {
		case <-ctx.Done():
			a.Log.Info("shutdown signal received")
		case err := <-errCh:
			return fmt.Errorf("http server: %w", err)
		}

		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("timebill", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "timebill.toml", "Path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)

	fetchCmd.Flags().IntP("days", "d", 1, "Number of days to fetch, today included")
	fetchCmd.Flags().Bool("current", false, "Refresh today only, honoring the minimum refetch interval")
	fetchCmd.Flags().Bool("force", false, "Refresh today even within the minimum interval")
	rootCmd.AddCommand(fetchCmd)

	processCmd.Flags().String("date", "", "Process a single date (YYYY-MM-DD)")
	processCmd.Flags().String("from", "", "Start of the date range (YYYY-MM-DD)")
	processCmd.Flags().String("to", "", "End of the date range (YYYY-MM-DD)")
	processCmd.Flags().Bool("debug", false, "Compute the grouping without writing anything")
	rootCmd.AddCommand(processCmd)

	reportCmd.Flags().String("date", "", "Report date (defaults to today)")
	reportCmd.Flags().String("export", "", "Also write the entries to a CSV file")
	rootCmd.AddCommand(reportCmd)

	updateCmd.Flags().Int64("id", 0, "Time entry id")
	updateCmd.Flags().String("status", "", "New status (pending, ignored or submitted)")
	updateCmd.Flags().String("notes", "", "New notes")
	rootCmd.AddCommand(updateCmd)

	revertCmd.Flags().Int64("id", 0, "Time entry id")
	rootCmd.AddCommand(revertCmd)

	serveCmd.Flags().String("addr", "", "Listen address (defaults to server.addr from config)")
	serveCmd.Flags().Duration("interval", 5*time.Minute, "Periodic sync interval")
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(versionCmd)
}
