package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/MarcoPoloResearchLab/schemata/internal/importer"
	"github.com/MarcoPoloResearchLab/schemata/internal/migrations"
	"github.com/MarcoPoloResearchLab/schemata/internal/schema"
	"github.com/spf13/cobra"
)

func newCollectionsCommand() *cobra.Command {
	collectionsCmd := &cobra.Command{
		Use:   "collections",
		Short: "Export or import the live collection schema",
	}

	exportCmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Write the live schema as a JSON array (stdout when file is omitted or -)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication(true)
			if err != nil {
				return err
			}
			defer app.Close()

			snapshot, err := importer.New(app.logger).Export(cmd.Context(), app.store)
			if err != nil {
				return err
			}
			encoded, err := json.MarshalIndent(snapshot, "", "  ")
			if err != nil {
				return err
			}
			encoded = append(encoded, '\n')
			if len(args) == 0 || args[0] == "-" {
				_, err = cmd.OutOrStdout().Write(encoded)
				return err
			}
			return os.WriteFile(args[0], encoded, 0o644)
		},
	}

	var deleteMissing bool
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Make the live schema match a JSON snapshot (array or snapshot migration file)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := readSnapshotArgument(cmd, args[0])
			if err != nil {
				return err
			}

			app, err := openApplication(true)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := importer.New(app.logger).Import(cmd.Context(), app.store, snapshot, importer.Options{
				DeleteMissing: deleteMissing,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d, updated %d, deleted %d, unchanged %d\n",
				len(result.Created), len(result.Updated), len(result.Deleted), len(result.Unchanged))
			return nil
		},
	}
	importCmd.Flags().BoolVar(&deleteMissing, "delete-missing", false, "Delete live collections absent from the snapshot")

	collectionsCmd.AddCommand(exportCmd, importCmd)
	return collectionsCmd
}

// readSnapshotArgument accepts a bare collections array or a snapshot migration document.
func readSnapshotArgument(cmd *cobra.Command, source string) (schema.Snapshot, error) {
	var (
		raw []byte
		err error
	)
	if source == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(source)
	}
	if err != nil {
		return schema.Snapshot{}, err
	}

	if snapshot, err := schema.DecodeSnapshot(raw); err == nil {
		return snapshot, nil
	}
	file, err := migrations.DecodeSnapshotFile(raw)
	if err != nil {
		return schema.Snapshot{}, fmt.Errorf("%s is neither a collections array nor a snapshot migration: %w", source, err)
	}
	return file.Collections, nil
}
