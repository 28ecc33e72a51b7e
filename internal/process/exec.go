// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package process wires cobra commands to configuration loading, logging
// and signal handling.
package process

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"artifortress.io/artifortress/internal/cfgstruct"
)

// Error is a process error class.
var Error = errs.Class("process")

var mon = monkit.Package()

// DefaultConfigFilename is the name of the config file inside the config
// directory.
const DefaultConfigFilename = "config.yaml"

var (
	contextMtx sync.Mutex
	contexts   = map[*cobra.Command]context.Context{}
)

// Bind sets up the command's flags from a configuration struct.
func Bind(cmd *cobra.Command, config interface{}) {
	cfgstruct.Bind(cmd.Flags(), config)
}

// Ctx returns the appropriate context.Context for the command, set up with
// signal cancellation by Exec.
func Ctx(cmd *cobra.Command) context.Context {
	contextMtx.Lock()
	defer contextMtx.Unlock()

	ctx, ok := contexts[cmd]
	if !ok {
		return context.Background()
	}
	return ctx
}

// Exec runs a cobra command after layering in environment variables and the
// optional config file and constructing the process logger.
func Exec(cmd *cobra.Command) {
	cmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	cleanup(cmd)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Viper returns a viper instance layered with the command's flags, the
// ARTIFORTRESS_* environment and the config file from --config-dir, if any.
func Viper(cmd *cobra.Command) (*viper.Viper, error) {
	vip := viper.New()
	if err := vip.BindPFlags(cmd.Flags()); err != nil {
		return nil, Error.Wrap(err)
	}
	vip.SetEnvPrefix("artifortress")
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	vip.AutomaticEnv()

	if configDir := configDirValue(cmd); configDir != "" {
		path := filepath.Join(os.ExpandEnv(configDir), DefaultConfigFilename)
		if _, err := os.Stat(path); err == nil {
			vip.SetConfigFile(path)
			if err := vip.ReadInConfig(); err != nil {
				return nil, Error.Wrap(err)
			}
		}
	}
	return vip, nil
}

func configDirValue(cmd *cobra.Command) string {
	if f := cmd.Flags().Lookup("config-dir"); f != nil {
		return f.Value.String()
	}
	return ""
}

// cleanup wraps every runnable command so that configuration sources are
// merged and the logger exists before the command body runs.
func cleanup(cmd *cobra.Command) {
	for _, ccmd := range cmd.Commands() {
		cleanup(ccmd)
	}
	if cmd.RunE == nil {
		return
	}

	internalRun := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) (err error) {
		ctx := context.Background()
		defer mon.TaskNamed("root")(&ctx)(&err)

		vip, err := Viper(cmd)
		if err != nil {
			return err
		}

		// apply values from the environment and the config file to flags
		// that were not set on the command line.
		var brokenKeys []string
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed || !vip.IsSet(f.Name) {
				return
			}
			if err := f.Value.Set(fmt.Sprint(vip.Get(f.Name))); err != nil {
				brokenKeys = append(brokenKeys, f.Name)
			}
		})
		if len(brokenKeys) > 0 {
			return Error.New("invalid configuration values for: %s", strings.Join(brokenKeys, ", "))
		}

		logger, err := NewLogger()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		defer zap.ReplaceGlobals(logger)()
		defer zap.RedirectStdLog(logger)()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go handleSignals(ctx, cancel, logger)

		contextMtx.Lock()
		contexts[cmd] = ctx
		contextMtx.Unlock()
		defer func() {
			contextMtx.Lock()
			delete(contexts, cmd)
			contextMtx.Unlock()
		}()

		return internalRun(cmd, args)
	}
}

func handleSignals(ctx context.Context, cancel context.CancelFunc, log *zap.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case sig := <-signals:
		log.Info("received shutdown signal", zap.Stringer("signal", sig))
		cancel()
	case <-ctx.Done():
	}
}
