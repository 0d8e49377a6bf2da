package cli

import (
	"time"

	"github.com/jlrickert/docpkg/pkg/ebook"
	"github.com/jlrickert/docpkg/pkg/store"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type libraryInfo struct {
	ID           string    `yaml:"id"`
	Location     string    `yaml:"location"`
	Created      time.Time `yaml:"created"`
	StoreType    string    `yaml:"storeType"`
	ModelVersion string    `yaml:"modelVersion"`
	Books        int       `yaml:"books"`
	Updated      string    `yaml:"updated,omitempty"`
	NotesTitle   string    `yaml:"notesTitle,omitempty"`
}

// NewInfoCmd returns the `info` command. It prints package metadata as
// yaml.
func NewInfoCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "info PATH",
		Short: "display library metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibrary(cmd.Context(), deps, args[0], func(lib *ebook.Library) error {
				doc := lib.Document()
				s := doc.Store()
				md := s.Metadata()
				info := libraryInfo{
					ID:           doc.Info().ID,
					Location:     doc.Location(),
					Created:      doc.Info().Created,
					StoreType:    s.Type(),
					ModelVersion: s.ModelVersion(),
					Books:        len(lib.Books()),
					Updated:      md[ebook.MetaUpdated],
					NotesTitle:   lib.NotesTitle(),
				}
				if from := s.MigratedFrom(); from != "" {
					info.ModelVersion = from + " (migrated to " + s.ModelVersion() + " on next save)"
				}
				if info.StoreType == "" {
					info.StoreType = store.DefaultType
				}

				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(info); err != nil {
					return err
				}
				return enc.Close()
			})
		},
	}
}
