package cli

import (
	"fmt"
	"io"

	"github.com/jlrickert/docpkg/pkg/document"
	"github.com/jlrickert/docpkg/pkg/ebook"
	"github.com/spf13/cobra"
)

// NewNotesCmd returns the `notes` command.
//
// Usage examples:
//
//	docpkg notes shelf.pkg
//	docpkg notes shelf.pkg --set "# To read"
//	docpkg notes shelf.pkg --set - < notes.md
func NewNotesCmd(deps *Deps) *cobra.Command {
	var set string
	var title bool

	cmd := &cobra.Command{
		Use:   "notes PATH",
		Short: "print or replace the notes of a library",
		Long: `Print the markdown notes stored with a library.

With --set the notes are replaced and the library is saved. A value of "-"
reads the notes from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibrary(cmd.Context(), deps, args[0], func(lib *ebook.Library) error {
				if !cmd.Flags().Changed("set") {
					if title {
						fmt.Fprintln(cmd.OutOrStdout(), lib.NotesTitle())
						return nil
					}
					fmt.Fprint(cmd.OutOrStdout(), lib.Notes())
					return nil
				}

				text := set
				if set == "-" {
					data, err := io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return fmt.Errorf("read notes: %w", err)
					}
					text = string(data)
				}
				lib.SetNotes(text)
				return save(cmd, lib, document.Save, "")
			})
		},
	}

	cmd.Flags().StringVar(&set, "set", "", "replace the notes, - reads stdin")
	cmd.Flags().BoolVar(&title, "title", false, "print only the first heading")

	return cmd
}
