package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/resale-alerts/internal/alerting"
	"github.com/t77yq/resale-alerts/internal/config"
	"github.com/t77yq/resale-alerts/internal/maintenance"
	"github.com/t77yq/resale-alerts/internal/notify"
	"github.com/t77yq/resale-alerts/internal/scheduler"
	"github.com/t77yq/resale-alerts/internal/settlement"
	"github.com/t77yq/resale-alerts/internal/storage"
)

const shutdownTimeout = 30 * time.Second

var (
	rootCmd = &cobra.Command{
		Use:          "resale-alerts",
		Short:        "Raise and retire payment alerts for the subscription resale back office",
		SilenceUsage: true,
		RunE:         cmdRun,
	}

	onceCmd = &cobra.Command{
		Use:   "once",
		Short: "Run a single reconciliation pass, print its summary and exit",
		RunE:  cmdOnce,
	}

	previewCmd = &cobra.Command{
		Use:   "preview",
		Short: "Print upcoming obligations and exit",
		RunE:  cmdPreview,
	}

	configDir string
)

func main() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "directory containing config.yaml")
	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(onceCmd, previewCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the components shared by every command
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	location    *time.Location
	store       *storage.SQLiteStore
	nc          *nats.Conn
	engine      *alerting.Engine
	resolver    *alerting.Resolver
	settlements *settlement.Service
}

func newApp(cmd *cobra.Command) (*app, error) {
	var dirs []string
	if configDir != "" {
		dirs = append(dirs, configDir)
	}
	cfg, err := config.LoadWithFlags(cmd.Flags(), dirs...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg.App.Development)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, location: loc}
	if err := a.wire(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg, logger := a.cfg, a.logger

	store, err := storage.NewSQLiteStore(logger, cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.store = store

	renderer, err := notify.NewRenderer(cfg.Notify.SubjectTemplate, cfg.Notify.BodyTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse notification templates: %w", err)
	}

	var channels []notify.Channel
	if cfg.Notify.SMTP.Enabled {
		email, err := notify.NewEmailNotifier(notify.EmailConfig{
			Host:       cfg.Notify.SMTP.Host,
			Port:       cfg.Notify.SMTP.Port,
			Username:   cfg.Notify.SMTP.Username,
			Password:   cfg.Notify.SMTP.Password,
			From:       cfg.Notify.SMTP.From,
			Recipients: cfg.Notify.SMTP.Recipients,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create email notifier: %w", err)
		}
		channels = append(channels, notify.WithRetry(email, notify.DefaultBackoff, cfg.Notify.MaxAttempts, logger))
	}

	if cfg.NATS.Enabled {
		nc, err := connectNATS(cfg.NATS, cfg.App.Name, logger)
		if err != nil {
			return err
		}
		a.nc = nc

		js, err := nc.JetStream()
		if err != nil {
			return fmt.Errorf("failed to create JetStream context: %w", err)
		}
		publisher, err := notify.NewJetStreamPublisher(js, logger)
		if err != nil {
			return fmt.Errorf("failed to create alert publisher: %w", err)
		}
		channels = append(channels, notify.WithRetry(publisher, notify.DefaultBackoff, cfg.Notify.MaxAttempts, logger))
	}

	opts := []alerting.Option{
		alerting.WithLocation(a.location),
		alerting.WithCurrencySymbol(cfg.Alerts.CurrencySymbol),
	}
	if len(channels) > 0 {
		dispatcher := notify.NewDispatcher(renderer, logger, channels...)
		logger.Info("Notifications enabled", zap.Int("channels", dispatcher.Channels()))
		opts = append(opts, alerting.WithDispatcher(dispatcher))
	}

	a.engine = alerting.NewEngine(store, logger, opts...)
	a.resolver = alerting.NewResolver(store, logger)
	a.settlements = settlement.NewService(store, a.resolver, logger)
	return nil
}

func (a *app) close() {
	if a.nc != nil {
		a.nc.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("Failed to close store", zap.Error(err))
		}
	}
	a.logger.Sync()
}

func cmdRun(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	reconciler := scheduler.New(a.engine, a.cfg.Alerts.Interval, logger)
	if err := reconciler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if a.nc != nil {
		if _, err := reconciler.SubscribeRefresh(a.nc); err != nil {
			reconciler.Stop()
			return fmt.Errorf("failed to subscribe to refresh requests: %w", err)
		}
		if _, err := a.settlements.Subscribe(a.nc); err != nil {
			reconciler.Stop()
			return fmt.Errorf("failed to subscribe to settlement requests: %w", err)
		}
	}

	cleaner := maintenance.NewCleaner(a.store, maintenance.Config{
		Retention:     a.cfg.Maintenance.Retention,
		Interval:      a.cfg.Maintenance.Interval,
		PurgeResolved: a.cfg.Maintenance.PurgeResolved,
	}, logger)
	go cleaner.Run(ctx)

	// Setup signal handling: SIGHUP requests a manual refresh, SIGINT/SIGTERM shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	logger.Info("Server started",
		zap.String("name", a.cfg.App.Name),
		zap.Duration("interval", a.cfg.Alerts.Interval),
		zap.String("location", a.location.String()))

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			logger.Info("Received refresh signal")
			go func() {
				if _, err := reconciler.TriggerNow(ctx); err != nil {
					logger.Error("Manual refresh failed", zap.Error(err))
				}
			}()
			continue
		}
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		break
	}

	cancel()
	signal.Stop(sigCh)

	stopped := make(chan struct{})
	go func() {
		reconciler.Stop()
		a.engine.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		logger.Info("Server shutting down gracefully")
	case <-time.After(shutdownTimeout):
		logger.Warn("Shutdown timeout reached, reconciliation or notifications may not have completed")
	}
	return nil
}

func cmdOnce(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	summary, runErr := a.engine.GenerateAll(cmd.Context())
	a.engine.Wait()
	if err := printJSON(cmd, summary); err != nil {
		return err
	}
	return runErr
}

func cmdPreview(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	upcoming, err := a.engine.Preview(cmd.Context())
	if err != nil {
		return fmt.Errorf("preview failed: %w", err)
	}
	return printJSON(cmd, upcoming)
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func connectNATS(cfg config.NATSConfig, name string, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	// Connect with retry
	var (
		nc  *nats.Conn
		err error
	)
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(cfg.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", maxRetries, err)
	}

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
