package main

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/celebrations/backend/internal/config"
	"github.com/MarcoPoloResearchLab/celebrations/backend/internal/contacts"
	"github.com/MarcoPoloResearchLab/celebrations/backend/internal/database"
	"github.com/MarcoPoloResearchLab/celebrations/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/celebrations/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/celebrations/backend/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "celebrations-api",
		Short:        "Celebrations contact submission service",
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to dotenv file loaded before reading the environment")
	cmd.PersistentFlags().String("host", defaults.GetString("http.host"), "HTTP listen host")
	cmd.PersistentFlags().String("port", defaults.GetString("http.port"), "HTTP listen port")
	cmd.PersistentFlags().String("database-url", "", "Postgres connection URL (overrides DATABASE_URL)")
	cmd.PersistentFlags().Int("keep-alive-ms", defaults.GetInt("database.keep_alive_ms"), "Database keep-alive interval in milliseconds; 0 disables it")
	cmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("environment", defaults.GetString("app.environment"), "Runtime environment (development, production)")
	cmd.PersistentFlags().Bool("metrics", defaults.GetBool("metrics.enabled"), "Expose Prometheus metrics on /metrics")

	bindFlag(cmd, "http.host", "host")
	bindFlag(cmd, "http.port", "port")
	bindFlag(cmd, "database.url", "database-url")
	bindFlag(cmd, "database.keep_alive_ms", "keep-alive-ms")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "app.environment", "environment")
	bindFlag(cmd, "metrics.enabled", "metrics")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	// Variables already present in the environment win over the dotenv file.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	return viper.ReadInConfig()
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.Environment)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if appConfig.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := database.CheckCredentials(appConfig.Database.URL); err != nil {
		logger.Warn("database credentials look incomplete", zap.Error(err))
	}

	pool, err := database.OpenPostgres(appConfig.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := pool.Close(); closeErr != nil {
			logger.Warn("failed to close database pool", zap.Error(closeErr))
		}
	}()

	recorder := metrics.NewRecorder()
	insertStats := contacts.NewInsertStats()
	contactService, err := contacts.NewService(contacts.ServiceConfig{
		Database:      pool.Gorm(),
		Clock:         time.Now,
		Stats:         insertStats,
		Observer:      recorder,
		Logger:        logger,
		InsertTimeout: appConfig.Database.ConnectTimeout,
	})
	if err != nil {
		return err
	}

	keepAlive := database.NewKeepAlive(database.KeepAliveConfig{
		Prober:   pool,
		Interval: appConfig.Database.KeepAliveInterval,
		Observer: recorder,
		Logger:   logger,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		ContactService: contactService,
		Database:       pool,
		InsertStats:    insertStats,
		KeepAlive:      keepAlive,
		Metrics:        recorder,
		ExposeMetrics:  appConfig.MetricsEnabled,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", appConfig.HTTPAddress)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("address", listener.Addr().String()),
			zap.String("environment", appConfig.Environment),
		)
		err := httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	go func() {
		// Failures are logged inside Warmup and never stop the server.
		_ = database.Warmup(signalCtx, pool, recorder, logger)
	}()

	if !appConfig.Database.KeepAliveEnabled() {
		logger.Info("database keep-alive disabled", zap.Duration("interval", appConfig.Database.KeepAliveInterval))
	}
	if _, err := keepAlive.Start(signalCtx); err != nil {
		logger.Warn("database keep-alive not started", zap.Error(err))
	}
	defer keepAlive.Stop()

	select {
	case <-signalCtx.Done():
		logger.Info("shutdown requested")
		keepAlive.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
