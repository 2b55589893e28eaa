package main

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "0.1.0" // overwritten by ldflags

type globalFlags struct {
	logLevel  string
	logFormat string
}

// app carries what every subcommand shares.
type app struct {
	flags  globalFlags
	logger *logrus.Logger
	out    io.Writer
}

func (a *app) initLogger(cmd *cobra.Command, _ []string) error {
	level, err := logrus.ParseLevel(a.flags.logLevel)
	if err != nil {
		return errors.Wrap(err, "bad --log-level")
	}

	a.logger = logrus.New()
	a.logger.SetOutput(cmd.ErrOrStderr())
	a.logger.SetLevel(level)

	switch strings.ToLower(a.flags.logFormat) {
	case "text":
		a.logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		a.logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return errors.Errorf("bad --log-format %q, want text or json",
			a.flags.logFormat)
	}

	return nil
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "pfsim",
		Short: "Stream-buffer prefetch simulator",
		Long: `pfsim drives one stream-buffer prefetch engine per core with ` +
			`synthetic or traced memory accesses, migrates threads between ` +
			`cores and reports prefetch coverage, accuracy and timeliness.`,
		PersistentPreRunE: a.initLogger,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Version:           version,
	}

	root.SetOut(out)
	root.SetErr(errOut)
	root.CompletionOptions.HiddenDefaultCmd = true

	root.PersistentFlags().StringVar(&a.flags.logLevel, "log-level", "warning",
		"log level: panic, fatal, error, warning, info, debug or trace")
	root.PersistentFlags().StringVar(&a.flags.logFormat, "log-format", "text",
		"log format: text or json")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newCheckConfigCmd(a))
	root.AddCommand(newVersionCmd(a))

	return root
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("pfsim %s\n", version)
		},
	}
}
