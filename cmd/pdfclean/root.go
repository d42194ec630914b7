package main

import (
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wudi/scanclean/config"
	"github.com/wudi/scanclean/observability"
)

var version = "dev"

type globalFlags struct {
	logFormat string
	logLevel  string
	profile   string
}

// app holds what the persistent pre-run prepared for subcommands.
type app struct {
	flags   globalFlags
	stdout  io.Writer
	stderr  io.Writer
	profile *config.Profile
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, profile: &config.Profile{}}
	root := &cobra.Command{
		Use:   "pdfclean",
		Short: "Clean stains and margins from scanned PDF documents",
		Long: `pdfclean renders every page of a scanned PDF, finds the real text content,
paints the margins around it white and optionally re-centres the content.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError("%v", err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.logFormat, "log-format", "text", "log output format: text or json")
	pf.StringVar(&a.flags.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	pf.StringVarP(&a.flags.profile, "profile", "p", "", "HCL profile with cleaning settings")

	root.AddCommand(newCleanCmd(a), newAnalyzeCmd(a), newInspectCmd(a), newVersionCmd(a))
	return root
}

// setup stores the logger in the command context for the subcommand and
// loads the profile.
func (a *app) setup(cmd *cobra.Command) error {
	sl, err := newLogger(a.stderr, a.flags.logFormat, a.flags.logLevel)
	if err != nil {
		return err
	}
	logger := observability.NewSlogLogger(sl)
	cmd.SetContext(observability.WithLogger(cmd.Context(), logger))
	if a.flags.profile != "" {
		p, err := config.Load(a.flags.profile)
		if err != nil {
			return &ExitError{Code: 2, Message: err.Error()}
		}
		a.profile = p
		logger.Debug("profile loaded", observability.String("path", a.flags.profile))
	}
	return nil
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, usageError("invalid log-level %q: must be 'debug', 'info', 'warn', or 'error'", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, usageError("invalid log-format %q: must be 'text' or 'json'", format)
}

func isUsage(err error) bool {
	return errors.Is(err, config.ErrInvalidConfig)
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := io.WriteString(a.stdout, "pdfclean "+version+"\n")
			return err
		},
	}
}

// inputArg requires exactly one input path.
func inputArg(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return usageError("%v", err)
	}
	return nil
}
