package cli

import (
	"fmt"

	"github.com/jlrickert/docpkg/pkg/document"
	"github.com/jlrickert/docpkg/pkg/ebook"
	"github.com/spf13/cobra"
)

// NewSaveAsCmd returns the `save-as` command. The copy at DST becomes a
// library of its own; SRC is left as it was.
func NewSaveAsCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "save-as SRC DST",
		Short: "save a library under a new path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibrary(cmd.Context(), deps, args[0], func(lib *ebook.Library) error {
				if err := save(cmd, lib, document.SaveAs, args[1]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), lib.Location())
				return nil
			})
		},
	}
}

// NewExportCmd returns the `export` command.
func NewExportCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "export SRC DST",
		Short: "write a copy of a library without switching to it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibrary(cmd.Context(), deps, args[0], func(lib *ebook.Library) error {
				return save(cmd, lib, document.SaveTo, args[1])
			})
		},
	}
}
