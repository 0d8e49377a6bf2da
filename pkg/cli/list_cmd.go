package cli

import (
	"fmt"

	"github.com/jlrickert/docpkg/pkg/ebook"
	"github.com/spf13/cobra"
)

// NewListCmd returns the `list` command.
//
// Usage examples:
//
//	docpkg list shelf.pkg
//	docpkg list shelf.pkg --id-only
func NewListCmd(deps *Deps) *cobra.Command {
	var idOnly bool

	cmd := &cobra.Command{
		Use:     "list PATH",
		Short:   "list the ebooks of a library",
		Aliases: []string{"ls"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibrary(cmd.Context(), deps, args[0], func(lib *ebook.Library) error {
				out := cmd.OutOrStdout()
				for _, b := range lib.Books() {
					if idOnly {
						fmt.Fprintln(out, b.ID)
						continue
					}
					fmt.Fprintf(out, "%s\t%s\t%s\n", b.ID, b.Type, b.Title)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&idOnly, "id-only", false, "print only ebook ids")

	return cmd
}
