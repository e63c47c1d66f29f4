package main

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dgallion1/docards/internal/doctree"
	"github.com/dgallion1/docards/internal/normalize"
	"github.com/dgallion1/docards/internal/parser"
	"github.com/spf13/cobra"
)

func newFlattenCmd(opts *globalOptions) *cobra.Command {
	var title string
	var raw bool
	cmd := &cobra.Command{
		Use:   "flatten <file>",
		Short: "Print the normalized text of a local document",
		Long: fmt.Sprintf(`flatten imports a local file, walks its document tree and prints the
normalized text a run would send to the completion provider.
Supported extensions: %s`, supportedList()),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			path := args[0]
			data, err := readInput(cmd.InOrStdin(), path)
			if err != nil {
				return err
			}

			p, err := parser.ForFile(path)
			if err != nil {
				return err
			}
			tree, err := p.Parse(bytes.NewReader(data), filepath.Base(path))
			if err != nil {
				return fmt.Errorf("import %s: %w", path, err)
			}
			text := doctree.FlattenDocument(tree)
			log.Debug("document flattened", "path", path, "nodes", len(tree.Body), "bytes", len(text))

			if raw {
				_, err = io.WriteString(cmd.OutOrStdout(), text)
				return err
			}
			if title == "" {
				title = tree.Title
			}
			doc := normalize.New(title, text)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), doc.NormalizedText)
			return err
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title heading (default: from the file)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the flattened text without normalizing it")
	return cmd
}

func supportedList() string {
	return strings.Join(slices.Sorted(maps.Keys(parser.SupportedExtensions)), ", ")
}
