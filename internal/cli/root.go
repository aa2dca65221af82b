// Package cli implements the hpo command: study management on a SQLite
// file and optimization runs driven by a YAML configuration.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/thalesfsp/hpo/sqlitestore"
)

// app holds the global flags and the resources built from them.
type app struct {
	storagePath string
	logLevel    string

	logger *zap.Logger
}

// NewRootCommand returns the hpo command tree.
func NewRootCommand() *cobra.Command {
	a := &app{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "hpo",
		Short: "Hyperparameter optimization studies",
		Long: `hpo runs hyperparameter optimization studies and inspects their trials.

Studies live in a SQLite file (--storage). Use 'optimize --config run.yaml'
to start or resume a study; the other commands read from the same file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(a.logLevel)
			if err != nil {
				return err
			}

			a.logger = logger

			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&a.storagePath, "storage", "hpo.db", "SQLite file holding the studies")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	root.AddCommand(
		a.newCreateStudyCommand(),
		a.newStudiesCommand(),
		a.newTrialsCommand(),
		a.newBestTrialCommand(),
		a.newOptimizeCommand(),
	)

	return root
}

// Execute runs the hpo command with the process arguments. Cancelling ctx
// stops a running optimization after the trials in flight finish.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (a *app) openStore(path string) (*sqlitestore.Store, error) {
	store, err := sqlitestore.New(path)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("opened storage", zap.String("path", path))

	return store, nil
}

// newLogger builds a production JSON logger writing to stderr at level.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger, nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
