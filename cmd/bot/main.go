package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"booking_reminder_bot/internal/infra/config"
	idb "booking_reminder_bot/internal/infra/database"
	"booking_reminder_bot/internal/infra/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "booking-reminder-bot",
		Short:         "Appointment reminders and confirmations for a YClients salon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the scheduler, the bot and the HTTP surface until interrupted",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "once",
			Short: "Run reconcile, reminders, reviews and lost customers once, then exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runOnce(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd.Context())
			},
		},
	)
	return root
}

// bootstrap loads config, builds the logger and opens a migrated database.
func bootstrap(ctx context.Context) (*config.AppConfig, *logrus.Logger, *idb.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		return nil, nil, nil, err
	}
	log := logger.New(cfg)
	log.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"db_driver":   cfg.DatabaseDriver,
		"admin_id":    cfg.AdminTelegramID,
	}).Info("Configuration loaded")

	driver, err := idb.ParseDriver(cfg.DatabaseDriver)
	if err != nil {
		log.WithError(err).Error("Unsupported database driver")
		return nil, nil, nil, err
	}
	db, err := idb.Open(driver, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Error("Could not connect to database")
		return nil, nil, nil, err
	}

	migrator, err := idb.NewMigrator(db, logger.Component(log, "migrator"))
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	applied, err := migrator.Up(ctx)
	if err != nil {
		log.WithError(err).Error("Database migration failed")
		db.Close()
		return nil, nil, nil, err
	}
	log.WithField("applied", applied).Info("Database ready")
	return cfg, log, db, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func runServe(parent context.Context) error {
	ctx, stop := signalContext(parent)
	defer stop()

	cfg, log, db, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	a, err := buildApp(ctx, cfg, log, db)
	if err != nil {
		log.WithError(err).Error("Could not initialise application")
		return err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	a.scheduler.OnFatal(func(err error) {
		log.WithError(err).Error("Storage failure, shutting down")
		cancel(err)
	})

	if err := a.scheduler.Start(ctx); err != nil {
		log.WithError(err).Error("Could not start scheduler")
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.bot != nil {
		g.Go(func() error {
			go a.bot.Start()
			log.Info("Telegram bot started")
			<-gctx.Done()
			a.bot.Stop()
			return nil
		})
	}
	if a.agent != nil {
		g.Go(func() error {
			return a.agent.Listen(gctx, a.confirmations)
		})
	}
	if a.http != nil {
		g.Go(func() error {
			return a.http.Run(gctx)
		})
	}

	log.Info("Application setup complete. Bot and scheduler are running.")
	<-gctx.Done()
	log.Info("Shutting down application...")
	a.scheduler.Stop()
	err = g.Wait()

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	if err != nil {
		return err
	}
	log.Info("Application shut down gracefully.")
	return nil
}

func runOnce(parent context.Context) error {
	ctx, stop := signalContext(parent)
	defer stop()

	cfg, log, db, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	a, err := buildApp(ctx, cfg, log, db)
	if err != nil {
		log.WithError(err).Error("Could not initialise application")
		return err
	}
	if err := a.scheduler.RunOnce(ctx); err != nil {
		log.WithError(err).Error("Run failed")
		return err
	}
	log.Info("All jobs ran once")
	return nil
}

func runMigrate(parent context.Context) error {
	ctx, stop := signalContext(parent)
	defer stop()

	_, _, db, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	return db.Close()
}
