package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dgallion1/docards/internal/extract"
	"github.com/dgallion1/docards/internal/pipeline"
	"github.com/dgallion1/docards/internal/snapshot"
	"github.com/spf13/cobra"
)

func newRecoverCmd(opts *globalOptions) *cobra.Command {
	var noSnapshot bool
	cmd := &cobra.Command{
		Use:   "recover <reply-file>",
		Short: "Recover and validate cards from a saved model reply",
		Long: `recover parses a raw completion reply (use "-" for stdin), repairing
near-JSON when needed, and prints the valid cards. Invalid records are logged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}

			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			res, err := extract.Recover(string(raw))
			if err != nil {
				var pe *extract.ParseError
				if errors.As(err, &pe) {
					log.Error("reply could not be recovered", "error", pe.Err, "repaired", pe.Repaired)
				}
				return err
			}
			for _, inv := range res.Invalid {
				log.Warn("invalid card", "index", inv.Index, "summary", inv.Card.Summary, "problems", inv.Problems)
			}
			if len(res.Valid) == 0 {
				return pipeline.ErrNoValidCards
			}
			if len(res.Invalid) > 0 {
				log.Warn("partial success", "summary", res.Summary())
			}

			if !noSnapshot {
				path, err := snapshot.New(cfg.CacheDir, log).SaveCards(res.Valid)
				if err != nil {
					return err
				}
				log.Info("cards snapshot written", "path", path, "cards", len(res.Valid))
			}
			return writeJSON(cmd.OutOrStdout(), res.Valid)
		},
	}
	cmd.Flags().BoolVar(&noSnapshot, "no-snapshot", false, "do not write a cards snapshot")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
