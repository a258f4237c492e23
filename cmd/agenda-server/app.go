package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/psicoagenda/agenda/internal/config"
	"github.com/psicoagenda/agenda/internal/domain/agenda"
	"github.com/psicoagenda/agenda/internal/domain/billing"
	"github.com/psicoagenda/agenda/internal/domain/catalog"
	"github.com/psicoagenda/agenda/internal/domain/patient"
	"github.com/psicoagenda/agenda/internal/domain/rental"
	"github.com/psicoagenda/agenda/internal/platform/auth"
	"github.com/psicoagenda/agenda/internal/platform/backup"
	"github.com/psicoagenda/agenda/internal/platform/db"
	"github.com/psicoagenda/agenda/internal/platform/live"
	"github.com/psicoagenda/agenda/internal/platform/middleware"
	"github.com/psicoagenda/agenda/internal/platform/notification"
	"github.com/psicoagenda/agenda/internal/platform/reporting"
)

const version = "0.1.0"

// app holds the wired services behind one database.
type app struct {
	echo      *echo.Echo
	db        *db.DB
	agenda    *agenda.Service
	backups   *backup.Manager
	scheduler *backup.Scheduler
	notifier  *notification.Dispatcher
	hub       *live.Hub
	logger    zerolog.Logger
}

// fanout hands every appointment event to each notifier in turn.
type fanout []agenda.Notifier

func (f fanout) Dispatch(ev notification.Event) {
	for _, n := range f {
		n.Dispatch(ev)
	}
}

func newBackupManager(cfg *config.Config, d *db.DB, logger zerolog.Logger) *backup.Manager {
	return backup.NewManager(d, backup.Options{
		Dir:  cfg.BackupDir,
		Zip:  cfg.BackupZip,
		Keep: cfg.BackupKeep,
	}, logger)
}

func newSender(cfg *config.Config, logger zerolog.Logger) notification.Sender {
	if cfg.SMTPEnabled() {
		return notification.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)
	}
	return notification.LogSender{Logger: logger}
}

// backupInterval converts the professional config into a scheduler setting.
func backupInterval(pc *agenda.ProfessionalConfig) (bool, time.Duration) {
	return pc.AutoBackupEnabled, time.Duration(pc.AutoBackupHours) * time.Hour
}

func newApp(cfg *config.Config, d *db.DB, logger zerolog.Logger) *app {
	a := &app{db: d, logger: logger}

	// Repositories
	patientRepo := patient.NewPatientRepoSQL(d)
	catalogRepo := catalog.NewRepoSQL(d)

	// Services
	a.notifier = notification.NewDispatcher(newSender(cfg, logger), nil, logger)
	a.hub = live.NewHub(logger)
	patientSvc := patient.NewService(patientRepo, patient.NewNoteRepoSQL(d), logger)
	catalogMgr := catalog.NewManager(catalogRepo)
	rentalSvc := rental.NewService(rental.NewPackageRepoSQL(d), rental.NewConsumptionRepoSQL(d), d, logger)
	a.agenda = agenda.NewService(agenda.Deps{
		Appointments: agenda.NewAppointmentRepoSQL(d),
		Blocks:       agenda.NewBlockRepoSQL(d),
		Hours:        agenda.NewHoursRepoSQL(d),
		Config:       agenda.NewConfigRepoSQL(d),
		Patients:     patientRepo,
		Services:     catalogRepo,
		Tx:           d,
		Ledger:       rentalSvc,
		Notifier:     fanout{a.notifier, a.hub},
		Logger:       logger,
	})
	patientSvc.SetCanceller(a.agenda)
	billingSvc := billing.NewService(billing.NewRepoSQL(d), d, logger)
	reporter := reporting.NewReporter(d, rentalSvc)

	a.backups = newBackupManager(cfg, d, logger)
	a.scheduler = backup.NewScheduler(a.backups, logger)
	a.agenda.OnConfigChange(func(pc *agenda.ProfessionalConfig) {
		a.scheduler.Apply(backupInterval(pc))
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(echomw.BodyLimit("2M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/api/v1/backups", "/api/v1/live"))

	secret := []byte(cfg.APITokenSecret)
	if cfg.IsDev() {
		e.Use(auth.DevMiddleware(secret))
	} else {
		e.Use(auth.TokenMiddleware(secret))
	}

	// Health
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(d))

	api := e.Group("/api/v1")
	patient.NewHandler(patientSvc).RegisterRoutes(api)
	catalog.NewHandler(catalogMgr).RegisterRoutes(api)
	agenda.NewHandler(a.agenda).RegisterRoutes(api)
	rental.NewHandler(rentalSvc).RegisterRoutes(api)
	billing.NewHandler(billingSvc).RegisterRoutes(api)
	reporting.NewHandler(reporter).RegisterRoutes(api)
	backup.NewHandler(a.backups).RegisterRoutes(api)
	live.NewHandler(a.hub, cfg.CORSOrigins).RegisterRoutes(api)

	a.echo = e
	return a
}

// startScheduler applies the stored backup settings and starts the loop.
// Only SQLite databases are backed up.
func (a *app) startScheduler(ctx context.Context) error {
	if a.db.Dialect != db.SQLite {
		a.logger.Info().Str("driver", string(a.db.Dialect)).Msg("automatic backups disabled for this driver")
		return nil
	}
	pc, err := a.agenda.ProfessionalConfig(ctx)
	if err != nil {
		return err
	}
	a.scheduler.Apply(backupInterval(pc))
	a.scheduler.Start(ctx)
	return nil
}

func (a *app) close() {
	a.scheduler.Stop()
	a.hub.Close()
	a.notifier.Close()
}

func runServer(cfg *config.Config) error {
	logger := newLogger(cfg, os.Stdout)

	ctx := context.Background()
	d, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer d.Close()
	logger.Info().Str("driver", string(d.Dialect)).Msg("connected to database")

	a := newApp(cfg, d, logger)
	defer a.close()
	if err := a.startScheduler(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to start backup scheduler")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
