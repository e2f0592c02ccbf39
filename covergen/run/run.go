// Package run wires covergen's stages into the covergen command line.
package run

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	config "github.com/toejough/covers/covergen/run/1_config"
	load "github.com/toejough/covers/covergen/run/2_load"
	output "github.com/toejough/covers/covergen/run/6_output"
)

// PackageLoader loads the packages matching patterns.
type PackageLoader interface {
	Load(patterns ...string) ([]*load.Package, error)
}

// Run executes covergen with the given command-line arguments, program name first.
// Progress lines go to out; logs go to the configured log file or to stderr.
func Run(
	args []string,
	getEnv func(string) string,
	fileSys output.FileSystem,
	pkgLoader PackageLoader,
	out io.Writer,
) error {
	cmd := newRootCmd(getEnv, fileSys, pkgLoader)
	cmd.SetOut(out)

	if len(args) > 0 {
		args = args[1:]
	}

	cmd.SetArgs(args)

	return cmd.ExecuteContext(context.Background())
}

const patternsHelp = `Supports Go-style package patterns:
  - .              the package in the current directory (default)
  - ./...          every package below the current directory
  - ./app ./lib    several packages`

const rootLongDescription = `covergen renames every function annotated with //covers:mocked and
generates a dispatch wrapper under the original name. Built normally the
wrapper calls the original; built with the covers tag it calls the bound
substitute.

` + patternsHelp

const listLongDescription = `List mock points, their scopes and targets, and the available
substitute candidates.

` + patternsHelp

func newRootCmd(getEnv func(string) string, fileSys output.FileSystem, pkgLoader PackageLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "covergen [patterns...]",
		Short:         "Generate build-tag dispatch wrappers for mocked functions",
		Long:          rootLongDescription,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, logger, err := setup(cmd, getEnv)
			if err != nil {
				return err
			}

			e := newEngine(opts, pkgLoader, logger)

			outputs, stale, err := e.generate(cmd.Context(), patternsOrDefault(args))
			if err != nil {
				return err
			}

			return output.New(fileSys, cmd.OutOrStdout(), logger, opts.DryRun).Write(outputs, stale)
		},
	}

	config.RegisterFlags(cmd.PersistentFlags())
	cmd.AddCommand(newListCmd(getEnv, pkgLoader))

	return cmd
}

// newLogger returns a text logger writing to a rotating file when one is configured.
func newLogger(opts config.LogOptions, fallback io.Writer) *slog.Logger {
	writer := fallback

	if opts.File != "" {
		writer = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		}
	}

	return slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: opts.Level}))
}

func patternsOrDefault(args []string) []string {
	if len(args) == 0 {
		return []string{"."}
	}

	return args
}

// setup resolves the options for cmd and builds its logger.
func setup(cmd *cobra.Command, getEnv func(string) string) (config.Options, *slog.Logger, error) {
	opts, err := config.Load(cmd.Flags(), getEnv)
	if err != nil {
		return config.Options{}, nil, fmt.Errorf("error loading configuration: %w", err)
	}

	logger := newLogger(opts.Log, cmd.ErrOrStderr())

	if !opts.Known() {
		logger.Debug("using a custom prefix", "prefix", opts.Prefix)
	}

	return opts, logger, nil
}
