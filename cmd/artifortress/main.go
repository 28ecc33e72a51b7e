// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"artifortress.io/artifortress/fortress"
	"artifortress.io/artifortress/fortress/audit"
	"artifortress.io/artifortress/fortress/fortressdb"
	"artifortress.io/artifortress/fortress/gc"
	"artifortress.io/artifortress/fortress/objectstore"
	"artifortress.io/artifortress/internal/process"
)

var (
	rootCmd = &cobra.Command{
		Use:   "artifortress",
		Short: "Artifortress artifact repository control plane",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the control plane",
		RunE:  cmdRun,
	}
	setupCmd = &cobra.Command{
		Use:   "setup",
		Short: "Create a config file with defaults",
		RunE:  cmdSetup,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE:  cmdMigrate,
	}
	gcCmd = &cobra.Command{
		Use:   "gc",
		Short: "Run one garbage collection pass",
		RunE:  cmdGC,
	}

	runCfg     fortress.Config
	setupCfg   fortress.Config
	migrateCfg fortress.Config
	gcCfg      struct {
		fortress.Config

		Mode         string `help:"dry_run or execute" default:"dry_run"`
		GraceSeconds int64  `help:"override the grace window in seconds, -1 keeps the configured value" default:"-1"`
		BatchSize    int    `help:"override the deletion batch size, 0 keeps the configured value" default:"0"`
	}

	confDir string
)

func init() {
	defaultConfDir := filepath.Join(os.Getenv("HOME"), ".artifortress")
	rootCmd.PersistentFlags().StringVar(&confDir, "config-dir", defaultConfDir, "directory holding the configuration file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(gcCmd)

	process.Bind(runCmd, &runCfg)
	process.Bind(setupCmd, &setupCfg)
	process.Bind(migrateCmd, &migrateCfg)
	process.Bind(gcCmd, &gcCfg)
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)
	log := zap.L()

	db, err := fortressdb.Open(log.Named("db"), runCfg.Database.URL)
	if err != nil {
		return errs.New("error connecting to database: %+v", err)
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	if err := db.MigrateToLatest(ctx); err != nil {
		return errs.New("error migrating database: %+v", err)
	}

	store, err := objectstore.NewMinioStore(log.Named("objectstore"), runCfg.ObjectStore)
	if err != nil {
		return errs.New("error connecting to object store: %+v", err)
	}

	peer, err := fortress.New(log, db, store, runCfg)
	if err != nil {
		return err
	}

	runError := peer.Run(ctx)
	closeError := peer.Close()
	return errs.Combine(runError, closeError)
}

func cmdSetup(cmd *cobra.Command, args []string) error {
	setupDir := os.ExpandEnv(confDir)
	if err := os.MkdirAll(setupDir, 0700); err != nil {
		return err
	}

	configFile := filepath.Join(setupDir, process.DefaultConfigFilename)
	if _, err := os.Stat(configFile); err == nil {
		return errs.New("configuration already exists at %s", configFile)
	}
	return process.SaveConfig(cmd, configFile, nil)
}

func cmdMigrate(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)
	log := zap.L()

	db, err := fortressdb.Open(log.Named("db"), migrateCfg.Database.URL)
	if err != nil {
		return errs.New("error connecting to database: %+v", err)
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	return db.MigrateToLatest(ctx)
}

func cmdGC(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)
	log := zap.L()

	db, err := fortressdb.Open(log.Named("db"), gcCfg.Database.URL)
	if err != nil {
		return errs.New("error connecting to database: %+v", err)
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	store, err := objectstore.NewMinioStore(log.Named("objectstore"), gcCfg.ObjectStore)
	if err != nil {
		return errs.New("error connecting to object store: %+v", err)
	}

	tenantID, err := uuid.Parse(gcCfg.Tenant.ID)
	if err != nil {
		return errs.New("invalid tenant id: %+v", err)
	}

	// build just the collector; a one-shot pass needs no http server.
	auditLog := audit.NewLog(log.Named("audit"), db.Audit(), tenantID)
	collector := gc.NewService(log.Named("gc"), db.GC(), store, auditLog, tenantID, gcCfg.GC)

	params := gc.Params{
		Mode:      gc.Mode(gcCfg.Mode),
		BatchSize: gcCfg.BatchSize,
	}
	if gcCfg.GraceSeconds >= 0 {
		params.Grace = time.Duration(gcCfg.GraceSeconds) * time.Second
		params.GraceSet = true
	}

	run, err := collector.RunOnce(ctx, params)
	if err != nil {
		return err
	}
	fmt.Printf("run %s mode=%s marked=%d candidates=%d deleted=%d versions=%d errors=%d\n",
		run.ID, run.Mode, run.MarkedCount, run.CandidateBlobCount,
		run.DeletedBlobCount, run.DeletedVersionCount, run.DeleteErrorCount)
	return nil
}

func main() {
	process.Exec(rootCmd)
}
