package cli

import (
	"context"
	"fmt"

	"github.com/jlrickert/docpkg/pkg/docerr"
	"github.com/jlrickert/docpkg/pkg/document"
	"github.com/jlrickert/docpkg/pkg/ebook"
	"github.com/jlrickert/docpkg/pkg/log"
	"github.com/spf13/cobra"
)

// Version may be overridden at build-time with
// -ldflags "-X github.com/jlrickert/docpkg/pkg/cli.Version=v1.2.3"
var Version = "dev"

// Deps holds what the persistent flags resolve to. Subcommands read it once
// the root command's PersistentPreRunE has run.
type Deps struct {
	ConfigPath string
	LogFile    string
	LogLevel   string
	LogJSON    bool

	Config   document.Config
	Shutdown func() error
}

// NewRootCmd builds the root command. Logs go to the command's error
// stream unless --log-file is given.
func NewRootCmd(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = &Deps{}
	}
	deps.Shutdown = func() error { return nil }

	cmd := &cobra.Command{
		Use:           "docpkg",
		Short:         "manage ebook library packages",
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg := document.DefaultConfig()
			if deps.ConfigPath != "" {
				c, err := document.ReadConfig(deps.ConfigPath)
				if err != nil {
					return err
				}
				cfg = c
			}
			deps.Config = cfg

			lvl, err := log.ParseLevel(deps.LogLevel)
			if err != nil {
				return err
			}
			lg, shutdown, err := log.NewLogger(log.LoggerConfig{
				Version: Version,
				Out:     cmd.ErrOrStderr(),
				File:    deps.LogFile,
				Level:   lvl,
				JSON:    deps.LogJSON,
			})
			if err != nil {
				return err
			}
			deps.Shutdown = shutdown
			ctx = log.ContextWithLogger(ctx, lg)
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return deps.Shutdown()
		},
	}

	cmd.PersistentFlags().StringVar(&deps.LogFile, "log-file", "", "write logs to file (default stderr)")
	cmd.PersistentFlags().StringVar(&deps.LogLevel, "log-level", "warn", "minimum log level")
	cmd.PersistentFlags().BoolVar(&deps.LogJSON, "log-json", false, "output logs as JSON")
	cmd.PersistentFlags().StringVarP(&deps.ConfigPath, "config", "c", "", "path to config file")

	cmd.AddCommand(
		NewNewCmd(deps),
		NewAddCmd(deps),
		NewListCmd(deps),
		NewRmCmd(deps),
		NewNotesCmd(deps),
		NewSaveAsCmd(deps),
		NewExportCmd(deps),
		NewInfoCmd(deps),
	)

	return cmd
}

func libraryOptions(deps *Deps) ebook.Options {
	return ebook.Options{Config: deps.Config}
}

// withLibrary opens the library at path, runs fn and closes it.
func withLibrary(ctx context.Context, deps *Deps, path string, fn func(*ebook.Library) error) (err error) {
	lib, err := ebook.Open(ctx, path, libraryOptions(deps))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := lib.Close(ctx); err == nil {
			err = cerr
		}
	}()
	return fn(lib)
}

// save runs a save and downgrades a partial write to a warning: the books
// are on disk even though the notes are not.
func save(cmd *cobra.Command, lib *ebook.Library, kind document.SaveKind, dst string) error {
	err := lib.Save(cmd.Context(), kind, dst)
	if err != nil && docerr.IsPartialWrite(err) {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		return nil
	}
	return err
}
