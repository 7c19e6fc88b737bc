// Package cli implements the corostack command line.
package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/corostack/internal/config"
	"github.com/coral-mesh/corostack/internal/coroutine/classify"
	"github.com/coral-mesh/corostack/internal/inspector"
	"github.com/coral-mesh/corostack/internal/logging"
	"github.com/coral-mesh/corostack/internal/snapshot"
	"github.com/coral-mesh/corostack/pkg/version"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath   string
	logLevel     string
	format       OutputFormat
	hidePlumbing bool
}

// NewRootCmd builds the corostack command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{format: FormatText}

	rootCmd := &cobra.Command{
		Use:   "corostack",
		Short: "Corostack - logical stacks of coroutines in a paused process",
		Long: `Reconstruct the logical call stack of coroutines in a paused process.

A running coroutine's native frames are spliced together with the frames
recovered from its continuation chain; a suspended coroutine's stack is
recovered from the heap alone.

Commands read a heap snapshot of the paused process (see 'corostack schema').`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Config file (default $HOME/.corostack/config.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.Var(&opts.format, "format", "Output format (text, json)")
	flags.BoolVar(&opts.hidePlumbing, "hide-plumbing", false, "Hide scheduler plumbing frames")

	rootCmd.AddCommand(newDumpCmd(opts))
	rootCmd.AddCommand(newFrameCmd(opts))
	rootCmd.AddCommand(newResolveCmd(opts))
	rootCmd.AddCommand(newSchemaCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprint(cmd.OutOrStdout(), version.String())
		},
	}
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// env is what a snapshot command works with.
type env struct {
	cfg       *config.Config
	logger    zerolog.Logger
	inspector *inspector.Inspector
	formatter OutputFormatter
}

// load reads the configuration, applies flag overrides and opens an
// inspector over the snapshot at path. The caller closes the inspector.
func (o *globalOptions) load(cmd *cobra.Command, path string) (*env, error) {
	cfg, err := config.NewLoader().Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if flags.Changed("format") {
		cfg.Output.Format = string(o.format)
	}
	if flags.Changed("hide-plumbing") {
		cfg.Output.HidePlumbing = o.hidePlumbing
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Pretty:  cfg.Logging.Pretty,
		NoColor: !IsTTY(cmd.ErrOrStderr()),
		Output:  cmd.ErrOrStderr(),
	})

	var hide *classify.Filter
	if cfg.Output.HidePlumbing {
		hide, err = classify.NewFilter(cfg.Output.PlumbingFilter)
		if err != nil {
			return nil, err
		}
	}

	proc, err := snapshot.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("snapshot", path).Msg("Snapshot loaded")

	in, err := inspector.New(proc, proc.Agent(cfg.Runtime.CompletionField), cfg, logger)
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:       cfg,
		logger:    logger,
		inspector: in,
		formatter: NewFormatter(OutputFormat(cfg.Output.Format), hide, IsTTY(cmd.OutOrStdout())),
	}, nil
}
