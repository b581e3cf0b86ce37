// Package cmd provides the tradecore CLI, built on cobra so `run` and
// `recover` can be distinct subcommands with their own flags, matching
// the exit-code contract a process-managed trading engine needs.
package cmd

import (
	"fmt"
	"os"

	"github.com/atlasquant/tradecore/internal/errs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logLevel string

// Root builds the tradecore root command.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "tradecore",
		Short: "Algorithmic trading pipeline engine",
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.AddCommand(newRunCmd())
	root.AddCommand(newRecoverCmd())
	return root
}

// setupLogger mirrors the teacher's zap console configuration:
// ISO8601 timestamps, capital-color level, short caller.
func setupLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return cfg.Build()
}

// Execute runs the CLI, translating the §6 exit-code contract: 0 on
// clean completion, 1 on fatal initialisation failure, 2 on a
// degraded-state refusal.
func Execute() int {
	root := Root()
	if err := root.Execute(); err != nil {
		if de, ok := err.(*degradedStateError); ok {
			fmt.Fprintln(os.Stderr, de.Error())
			return 2
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// fatalInitError marks a missing-config/secret or unreachable-backend
// failure at startup; it exits 1.
type fatalInitError struct{ err error }

func (e *fatalInitError) Error() string { return e.err.Error() }
func (e *fatalInitError) Unwrap() error { return e.err }

func fatalInit(err error) error {
	if err == nil {
		return nil
	}
	return &fatalInitError{err: errs.FatalInit("cmd", "fatal initialization failure", err)}
}

// degradedStateError marks a C12 DEGRADED recovery that refuses to
// start or resume trading until acknowledged; it exits 2.
type degradedStateError struct{ err error }

func (e *degradedStateError) Error() string { return e.err.Error() }
func (e *degradedStateError) Unwrap() error { return e.err }

func degradedState(err error) error {
	if err == nil {
		return nil
	}
	return &degradedStateError{err: err}
}
