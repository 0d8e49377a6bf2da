package cli

import (
	"fmt"

	"github.com/jlrickert/docpkg/pkg/document"
	"github.com/jlrickert/docpkg/pkg/ebook"
	"github.com/spf13/cobra"
)

// NewNewCmd returns the `new` command.
//
// Usage examples:
//
//	docpkg new ~/books/shelf.pkg
func NewNewCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "new PATH",
		Short: "create an empty library package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			lib, err := ebook.New(ctx, libraryOptions(deps))
			if err != nil {
				return err
			}
			defer lib.Close(ctx)

			if err := save(cmd, lib, document.SaveAs, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), lib.Location())
			return nil
		},
	}
}
