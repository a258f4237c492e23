package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/psicoagenda/agenda/internal/config"
	"github.com/psicoagenda/agenda/internal/domain/agenda"
	"github.com/psicoagenda/agenda/internal/platform/auth"
	"github.com/psicoagenda/agenda/internal/platform/backup"
	"github.com/psicoagenda/agenda/internal/platform/db"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "agenda-server",
		Short:        "Practice agenda API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(gridCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	logger := zerolog.New(out).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// openStore opens the configured database and applies pending migrations.
func openStore(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	d, err := db.Open(ctx, cfg.DBDriver, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, err
	}
	if _, err := db.NewDefaultMigrator(d).Up(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return d, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the agenda API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			d, err := db.Open(ctx, cfg.DBDriver, cfg.DatabaseURL, cfg.DBMaxConns)
			if err != nil {
				return err
			}
			defer d.Close()

			count, err := db.NewDefaultMigrator(d).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) to %s database.\n", count, d.Dialect)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			d, err := db.Open(ctx, cfg.DBDriver, cfg.DatabaseURL, cfg.DBMaxConns)
			if err != nil {
				return err
			}
			defer d.Close()

			statuses, err := db.NewDefaultMigrator(d).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrations(cmd.OutOrStdout(), statuses)
			return nil
		},
	})

	return cmd
}

func printMigrations(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage database backups",
	}

	withManager := func(fn func(cmd *cobra.Command, d *db.DB, mgr *backup.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			d, err := openStore(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer d.Close()
			logger := newLogger(cfg, cmd.ErrOrStderr())
			return fn(cmd, d, newBackupManager(cfg, d, logger))
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "now",
		Short: "Write a backup immediately",
		RunE: withManager(func(cmd *cobra.Command, _ *db.DB, mgr *backup.Manager) error {
			rec, err := mgr.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup written: %s (%d bytes)\n", rec.File, rec.Size)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored backups, newest first",
		RunE: withManager(func(cmd *cobra.Command, _ *db.DB, mgr *backup.Manager) error {
			items, err := mgr.List()
			if err != nil {
				return err
			}
			printBackups(cmd.OutOrStdout(), items)
			return nil
		}),
	})

	restoreCmd := &cobra.Command{
		Use:   "restore",
		Short: "Replace the database with a stored backup (server must be stopped)",
		RunE: withManager(func(cmd *cobra.Command, d *db.DB, mgr *backup.Manager) error {
			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			// The file is replaced underneath the handle.
			if err := d.Close(); err != nil {
				return err
			}
			if err := mgr.Restore(file); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database restored from %s\n", file)
			return nil
		}),
	}
	restoreCmd.Flags().String("file", "", "Backup file name as shown by 'backup list'")
	cmd.AddCommand(restoreCmd)

	return cmd
}

func printBackups(w io.Writer, items []backup.Record) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No backups found.")
		return
	}
	fmt.Fprintf(w, "%-40s %-20s %s\n", "FILE", "TAKEN AT", "SIZE")
	for _, r := range items {
		fmt.Fprintf(w, "%-40s %-20s %d\n", r.File, r.Timestamp.Format("2006-01-02 15:04:05"), r.Size)
	}
}

func gridCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Print the weekly agenda grid",
		RunE: func(cmd *cobra.Command, args []string) error {
			week, _ := cmd.Flags().GetString("week")
			slot, _ := cmd.Flags().GetInt("slot")

			start := time.Now()
			if week != "" {
				var err error
				if start, err = db.ParseDate(week); err != nil {
					return fmt.Errorf("--week must be YYYY-MM-DD: %w", err)
				}
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			d, err := openStore(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			a := newApp(cfg, d, newLogger(cfg, cmd.ErrOrStderr()))
			defer a.close()
			g, err := a.agenda.WeekGrid(cmd.Context(), start, slot)
			if err != nil {
				return err
			}
			printGrid(cmd.OutOrStdout(), g)
			return nil
		},
	}
	cmd.Flags().String("week", "", "Any date of the week to print (default: this week)")
	cmd.Flags().Int("slot", 0, "Slot size in minutes (default: professional config)")
	return cmd
}

// Cell marks used by printGrid.
var cellMarks = map[agenda.CellState]string{
	agenda.CellOpen:                ".",
	agenda.CellClosed:              " ",
	agenda.CellOccupiedAppointment: "A",
	agenda.CellOccupiedBlock:       "B",
}

func printGrid(w io.Writer, g *agenda.WeekGrid) {
	fmt.Fprintf(w, "Week of %s, %d-minute slots\n", db.FormatDate(g.WeekStart), g.SlotMinutes)
	fmt.Fprintf(w, "%-6s", "")
	for _, d := range g.Days {
		fmt.Fprintf(w, " %-6s", d.Date.Format("Mon 02"))
	}
	fmt.Fprintln(w)

	for i, label := range g.Slots {
		fmt.Fprintf(w, "%-6s", label)
		for _, d := range g.Days {
			mark := cellMarks[d.Cells[i].State]
			if n := len(d.Cells[i].Appointments); n > 1 {
				mark = fmt.Sprintf("A%d", n)
			}
			fmt.Fprintf(w, " %-6s", mark)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "legend: . open, A appointment, B blocked, blank closed")
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a local API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.APITokenSecret == "" {
				return fmt.Errorf("API_TOKEN_SECRET is not set")
			}
			token, err := auth.IssueToken([]byte(cfg.APITokenSecret), subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("subject", "agenda-ui", "Token subject")
	cmd.Flags().Duration("ttl", 30*24*time.Hour, "Token lifetime")
	return cmd
}
