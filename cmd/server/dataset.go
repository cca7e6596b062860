package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashureev/counselsim/internal/persona"
)

// newPatientsCmd prints the ids the server would offer.
func newPatientsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "patients",
		Short: "List patient ids in the configured dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, cleanup, err := a.openCatalog()
			if err != nil {
				return err
			}
			defer cleanup()

			ids, err := catalog.IDs(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, id := range ids {
				fmt.Fprintln(out, id)
			}
			fmt.Fprintf(out, "%d patients\n", len(ids))
			return nil
		},
	}
}

func newDatasetCmd(a *app) *cobra.Command {
	datasetCmd := &cobra.Command{
		Use:   "dataset",
		Short: "Dataset management",
	}

	var from, to string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Load a JSON dataset into a SQLite database",
		Long: `Load a JSON dataset (a list of records, or an object keyed by id) into a
SQLite database that MERGED_DATA_PATH can point at.
Example: counselsim dataset import --from ref/merged_data.json --to ref/patients.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				to = a.cfg.DatasetPath
			}
			n, err := importDataset(cmd.Context(), a, from, to)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d records into %s\n", n, to)
			return nil
		},
	}
	importCmd.Flags().StringVar(&from, "from", "", "JSON dataset to read")
	importCmd.Flags().StringVar(&to, "to", "", "SQLite database to write (defaults to MERGED_DATA_PATH)")
	_ = importCmd.MarkFlagRequired("from")

	datasetCmd.AddCommand(importCmd)
	return datasetCmd
}

func importDataset(ctx context.Context, a *app, from, to string) (int, error) {
	if !persona.IsSQLitePath(to) {
		return 0, fmt.Errorf("target %q is not a .db, .sqlite or .sqlite3 file", to)
	}

	records, err := persona.ReadDataset(from)
	if err != nil {
		return 0, err
	}

	db, err := persona.OpenSQLite(to)
	if err != nil {
		return 0, err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			a.logger.Error("Failed to close dataset database", "error", closeErr)
		}
	}()

	return db.Import(ctx, records, a.logger)
}
