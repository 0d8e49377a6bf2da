package cli

import (
	"fmt"

	"github.com/jlrickert/docpkg/pkg/document"
	"github.com/jlrickert/docpkg/pkg/ebook"
	"github.com/spf13/cobra"
)

type addOptions struct {
	Title    string
	Contents string
	Type     string
}

// NewAddCmd returns the `add` command. It prints the id of the new ebook.
//
// Usage examples:
//
//	docpkg add shelf.pkg --title "Dune"
//	docpkg add shelf.pkg --title "Dune" --contents "$(cat dune.txt)" --type pdf
func NewAddCmd(deps *Deps) *cobra.Command {
	var opts addOptions

	cmd := &cobra.Command{
		Use:   "add PATH",
		Short: "add an ebook to a library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withLibrary(ctx, deps, args[0], func(lib *ebook.Library) error {
				b := lib.Add(ctx, opts.Title, opts.Contents)
				if opts.Type != "" {
					if err := lib.Document().Pair().Editing.Set(b.ID, ebook.AttrType, opts.Type); err != nil {
						return err
					}
				}
				if err := save(cmd, lib, document.Save, ""); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), b.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Title, "title", "", "title of the ebook")
	cmd.Flags().StringVar(&opts.Contents, "contents", "", "contents of the ebook")
	cmd.Flags().StringVar(&opts.Type, "type", "", "ebook format (default epub)")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}
