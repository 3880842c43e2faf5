package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse/backend/internal/activity"
	"github.com/pulsehq/pulse/backend/internal/aggregate"
	"github.com/pulsehq/pulse/backend/internal/badges"
	"github.com/pulsehq/pulse/backend/internal/cache"
	"github.com/pulsehq/pulse/backend/internal/commits"
	"github.com/pulsehq/pulse/backend/internal/config"
	"github.com/pulsehq/pulse/backend/internal/database"
	"github.com/pulsehq/pulse/backend/internal/logging"
	"github.com/pulsehq/pulse/backend/internal/members"
	"github.com/pulsehq/pulse/backend/internal/metrics"
	"github.com/pulsehq/pulse/backend/internal/query"
	"github.com/pulsehq/pulse/backend/internal/scheduler"
	"github.com/pulsehq/pulse/backend/internal/server"
	"github.com/pulsehq/pulse/backend/internal/stats"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "pulse-api",
		Short: "Pulse commit-activity aggregation service",
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
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("timezone", defaults.GetString("aggregation.timezone"), "Civil timezone for day bucketing")
	cmd.PersistentFlags().Int("parallelism", defaults.GetInt("aggregation.parallelism"), "Aggregation worker parallelism")
	cmd.PersistentFlags().String("redis-url", defaults.GetString("cache.redis_url"), "Redis URL for the read cache (empty for in-memory)")
	cmd.PersistentFlags().Int("sweep-window-days", defaults.GetInt("sweep.window_days"), "Trailing window covered by scheduled sweeps")
	cmd.PersistentFlags().String("badges-file", defaults.GetString("badges.path"), "Badge definitions YAML file")
	cmd.PersistentFlags().String("trophies-file", defaults.GetString("trophies.path"), "Trophy tier tables YAML file")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "aggregation.timezone", "timezone")
	bindFlag(cmd, "aggregation.parallelism", "parallelism")
	bindFlag(cmd, "cache.redis_url", "redis-url")
	bindFlag(cmd, "sweep.window_days", "sweep-window-days")
	bindFlag(cmd, "badges.path", "badges-file")
	bindFlag(cmd, "trophies.path", "trophies-file")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	badgeDefinitions := badges.DefaultBadges()
	if appConfig.BadgesPath != "" {
		badgeDefinitions, err = badges.LoadBadgeFile(appConfig.BadgesPath)
		if err != nil {
			return err
		}
	}
	trophyTables := badges.DefaultTrophies()
	if appConfig.TrophiesPath != "" {
		trophyTables, err = badges.LoadTrophyFile(appConfig.TrophiesPath)
		if err != nil {
			return err
		}
	}
	badgeEvaluator := badges.NewEvaluator(badgeDefinitions)
	tierCalculator := badges.NewTierCalculator(trophyTables)

	var cacheStore cache.Store
	if appConfig.RedisURL != "" {
		redisStore, redisErr := cache.NewRedisStore(ctx, appConfig.RedisURL)
		if redisErr != nil {
			return redisErr
		}
		defer redisStore.Close()
		cacheStore = redisStore
	} else {
		cacheStore = cache.NewMemoryStore(nil)
	}

	registry := prometheus.NewRegistry()
	metricSet := metrics.New(registry)

	commitStore, err := commits.NewStore(db)
	if err != nil {
		return err
	}
	memberService, err := members.NewService(members.ServiceConfig{Database: db})
	if err != nil {
		return err
	}
	aggregator, err := activity.NewAggregator(activity.AggregatorConfig{
		Database:    db,
		EventSource: commitStore,
		Location:    appConfig.Timezone,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	rollup, err := stats.NewRollup(stats.RollupConfig{
		Database:  db,
		Records:   aggregator,
		Events:    commitStore,
		Badges:    badgeEvaluator,
		Location:  appConfig.Timezone,
		Logger:    logger,
		OnAnomaly: func(string) { metricSet.SumAnomaliesTotal.Inc() },
	})
	if err != nil {
		return err
	}
	orchestrator, err := aggregate.NewOrchestrator(aggregate.OrchestratorConfig{
		Members:     memberService,
		Aggregator:  aggregator,
		Rollup:      rollup,
		Events:      commitStore,
		Cache:       cacheStore,
		Location:    appConfig.Timezone,
		Logger:      logger,
		Metrics:     metricSet,
		Parallelism: appConfig.Parallelism,
	})
	if err != nil {
		return err
	}
	queryService, err := query.NewService(query.ServiceConfig{
		Aggregator: aggregator,
		Snapshots:  rollup,
		Members:    memberService,
		RepoCounts: commitStore,
		Badges:     badgeEvaluator,
		Trophies:   tierCalculator,
		Cache:      cacheStore,
		CacheTTL:   appConfig.CacheTTL,
		Location:   appConfig.Timezone,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	sweep, err := scheduler.New(scheduler.Config{
		Runner:     orchestrator,
		Location:   appConfig.Timezone,
		Logger:     logger,
		Interval:   appConfig.SweepInterval,
		WindowDays: appConfig.SweepWindow,
		RunBudget:  appConfig.SweepBudget,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Orchestrator:  orchestrator,
		Query:         queryService,
		Members:       memberService,
		Commits:       commitStore,
		ActivityRows:  aggregator,
		SnapshotRows:  rollup,
		Cache:         cacheStore,
		Logger:        logger,
		MetricsSource: registry,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweep.Start(signalCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		sweep.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		sweep.Stop()
		return err
	}
}
