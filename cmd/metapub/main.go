// Package main is the entry point of the metapub CLI.
//
// Import Path: metapub.io/metapub/cmd/metapub
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"metapub.io/metapub/internal/config"
	"metapub.io/metapub/internal/pkg/logger"

	apperrors "metapub.io/metapub/internal/pkg/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "metapub: %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// app carries what every command needs after the root pre-run.
type app struct {
	cfg        *config.Config
	restoreLog func()

	// isTerminal and readPassword back the interactive password prompt.
	isTerminal   func() bool
	readPassword func() ([]byte, error)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "metapub",
		Short: "Build widget metadata and publish it to a Confluence page",
		Long: `metapub runs the widget metadata build script, waits for the JSON it writes,
marks every widget as present or absent in the DEV and IFT widget stores, and
replaces the body of a Confluence page with the resulting table.

Credentials and endpoints come from the environment (CONF_URL, CONF_USER,
CONF_PASS, CONF_PAGE_ID, WIDGET_STORE_DEV_BASE, WIDGET_STORE_IFT_BASE) or from
metapub.yaml.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "configuration file (default: metapub.yaml in ., ./config or ~/.config/metapub)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "json", "log format: json or console")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return apperrors.ErrInvalidArgumentf("%v", err)
	})

	root.AddCommand(newPublishCmd(a), newScanCmd(a), newConfigCmd(a))
	return root
}

// init loads the configuration for cmd and configures logging with a run id.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return apperrors.Wrap(err, apperrors.CodeConfigInvalid, "init logger")
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return apperrors.Wrap(err, apperrors.CodeConfigInvalid, "set log level")
	}

	runID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	a.restoreLog = logger.Replace(logger.With(
		zap.String("run_id", runID.String()),
		zap.String("command", cmd.Name()),
	))
	return nil
}

func (a *app) close() {
	if a.restoreLog != nil {
		a.restoreLog()
		a.restoreLog = nil
	}
	_ = logger.Sync()
}
