// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/AleutianAI/PowerDesk/pkg/logging"
	"github.com/AleutianAI/PowerDesk/services/powerdesk"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/repository"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/retention"
)

// --- Global Command Variables ---
var (
	envFiles  []string
	servePort int
	olderThan time.Duration

	config powerdesk.Config
	logger *logging.Logger
)

var (
	rootCmd = &cobra.Command{
		Use:           "powerdesk",
		Short:         "Customer support server for electric utilities",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := powerdesk.LoadConfig(envFiles...)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			config = cfg
			return setupLogging(cfg)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE:  runMigrate,
	}

	seedCmd = &cobra.Command{
		Use:   "seed",
		Short: "Migrate and insert service types, knowledge entries and the admin account",
		RunE:  runSeed,
	}

	purgeCmd = &cobra.Command{
		Use:   "purge-history",
		Short: "Delete chat records older than the given age",
		RunE:  runPurge,
	}
)

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides PORT)")
	purgeCmd.Flags().DurationVar(&olderThan, "older-than", 0, "age of the oldest record to keep, e.g. 720h (default HISTORY_RETENTION)")

	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, purgeCmd)
}

func setupLogging(cfg powerdesk.Config) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logCfg := logging.Config{
		Level:   level,
		LogDir:  cfg.LogDir,
		Service: powerdesk.ServiceName,
		JSON:    !strings.EqualFold(cfg.LogFormat, "text"),
	}
	if cfg.EnableMetrics {
		counter := logging.NewMetricsExporter(powerdesk.ServiceName)
		logCfg.Exporter = counter
		config.Collectors = append(config.Collectors, counter)
	}
	logger = logging.New(logCfg)
	logger.SetDefault()
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("port") {
		config.Port = servePort
	}
	ctx, stop := signalContext()
	defer stop()

	svc, err := powerdesk.New(ctx, config, nil)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	return svc.Run(ctx)
}

func openMigrated() (*gorm.DB, error) {
	db, err := repository.Open(repository.DBConfig{Driver: config.DBDriver, DSN: config.DBDSN})
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(db); err != nil {
		_ = repository.Close(db)
		return nil, err
	}
	return db, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	db, err := openMigrated()
	if err != nil {
		return err
	}
	defer func() { _ = repository.Close(db) }()
	slog.Info("Database migrated", "driver", config.DBDriver)
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	db, err := powerdesk.OpenDatabase(ctx, config)
	if err != nil {
		return err
	}
	defer func() { _ = repository.Close(db) }()
	slog.Info("Database seeded", "driver", config.DBDriver)
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	age := config.HistoryRetention
	if cmd.Flags().Changed("older-than") {
		age = olderThan
	}
	if age <= 0 {
		return errors.New("nothing to purge: set --older-than or HISTORY_RETENTION")
	}

	db, err := openMigrated()
	if err != nil {
		return err
	}
	defer func() { _ = repository.Close(db) }()

	sched, err := retention.New(repository.NewChatRecordRepository(db), retention.Config{
		Retention: age,
		Schedule:  config.RetentionSchedule,
	})
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	res, err := sched.RunNow(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d chat records older than %s\n", res.Deleted, res.Cutoff.Format(time.RFC3339))
	return nil
}
