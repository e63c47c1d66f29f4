package main

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/dgallion1/docards/internal/extract"
	"github.com/dgallion1/docards/internal/pipeline"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *globalOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run [document-ref]",
		Short: "Fetch a document, extract cards and dispatch them",
		Long: `run performs one pipeline run. The document reference is a document ID or
URL; it defaults to DOCARDS_DOCUMENT. The command fails when no valid card
was produced and succeeds with a warning when only some records were invalid.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.DocumentRef = args[0]
			}
			if err := cfg.ValidateRun(); err != nil {
				return err
			}
			if dryRun {
				cfg.DispatchURL = ""
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, log, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.runner.Run(ctx, cfg.DocumentRef)
			if err != nil {
				var pe *extract.ParseError
				switch {
				case errors.As(err, &pe):
					log.Error("model reply could not be recovered", "reply_snapshot", out.ReplySnapshot, "repaired", pe.Repaired)
				case errors.Is(err, pipeline.ErrNoValidCards):
					log.Error("no usable cards", "summary", out.Cards.Summary(), "reply_snapshot", out.ReplySnapshot)
				}
				return err
			}
			if out.Partial() {
				log.Warn("partial success", "summary", out.Cards.Summary())
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "recover and snapshot cards without dispatching them")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
