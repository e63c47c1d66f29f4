// Command docards turns a structured document into validated work-item cards.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgallion1/docards/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	verbose    bool
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "docards",
		Short: "Turn a structured document into validated work-item cards",
		Long: `docards reads a remote document (or a local copy when access is denied),
asks a completion provider to break it into work items, recovers the JSON
reply, validates every card and dispatches the valid ones downstream.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "YAML config file (environment overrides it)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format: json or text")

	cmd.AddCommand(
		newRunCmd(opts),
		newRecoverCmd(opts),
		newFlattenCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

// load reads the configuration, applies flag overrides and builds the logger.
func (o *globalOptions) load(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFile(o.configPath)
	if err != nil {
		return cfg, nil, err
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = o.verbose
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	log, err := newLogger(cmd.ErrOrStderr(), cfg.Verbose, cfg.LogFormat)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, log, nil
}

// newLogger writes to w, leaving stdout for command output.
func newLogger(w io.Writer, verbose bool, format string) (*slog.Logger, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	switch format {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	default:
		return nil, &config.Error{Field: "DOCARDS_LOG_FORMAT", Problem: fmt.Sprintf("unknown format %q", format)}
	}
}
