package cli

import (
	"github.com/jlrickert/docpkg/pkg/document"
	"github.com/jlrickert/docpkg/pkg/ebook"
	"github.com/spf13/cobra"
)

// NewRmCmd returns the `rm` command. ID may be any unambiguous prefix of an
// ebook id.
func NewRmCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "rm PATH ID...",
		Short: "remove ebooks from a library",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibrary(cmd.Context(), deps, args[0], func(lib *ebook.Library) error {
				for _, prefix := range args[1:] {
					b, err := lib.Find(prefix)
					if err != nil {
						return err
					}
					if err := lib.Remove(b.ID); err != nil {
						return err
					}
				}
				return save(cmd, lib, document.Save, "")
			})
		},
	}
}
