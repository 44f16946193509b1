package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/urban-physiology/glossarizer/internal/app"
	"github.com/urban-physiology/glossarizer/internal/config"
	"github.com/urban-physiology/glossarizer/internal/glossarizer"
)

var cfgFile string

// runnerKeyType is the key for storing the Runner in the context.
type runnerKeyType string

const runnerKey runnerKeyType = "runner"

// closeTimeout bounds service teardown after a command finishes.
const closeTimeout = 15 * time.Second

// Runner is the slice of the application the commands drive. An
// interface here lets tests inject a fake in place of the full app.
type Runner interface {
	Glossarize(ctx context.Context, ids []string) ([]glossarizer.Result, error)
	Run(ctx context.Context) error
	Logger() *zap.Logger
	Close(ctx context.Context)
}

// newRunner is the application factory. It is a variable so tests can
// replace it with a mock factory.
var newRunner = func(ctx context.Context, cfgPath string) (Runner, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "glossarizer",
		Short: "Builds metadata glossaries from municipal open data portals.",
		Long: `glossarizer walks the catalogs of configured open data portals
(Socrata, CKAN, ArcGIS Open Data, plain file listings), normalizes each
dataset's metadata into resource descriptors, and publishes one JSONL
catalog per portal.`,
		SilenceUsage: true,

		// Runs after flags are parsed but before the subcommand's RunE,
		// so every command finds its services in the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			r, err := newRunner(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runnerKey, r))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ., /etc/glossarizer, $HOME/.glossarizer)")

	cmd.AddCommand(newGlossarizeCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveRunner(ctx context.Context) (Runner, error) {
	r, ok := ctx.Value(runnerKey).(Runner)
	if !ok || r == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return r, nil
}

// closeRunner tears down the services a command resolved. Commands defer
// it so shutdown also happens when the run itself fails; cobra skips the
// post-run hooks on error.
func closeRunner(r Runner) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	r.Close(ctx)
}

// Execute is the main entry point. Cobra prints the failure; the exit
// code is ours.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
