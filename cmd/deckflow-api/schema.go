package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PabloGalante/deckflow-agent/internal/adapters/dbschema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the analytics database schema as JSON",
	RunE:  runSchema,
}

func runSchema(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.AnalyticsDB == "" {
		return errors.New("DECKFLOW_ANALYTICS_DB is not set")
	}

	db, err := dbschema.OpenAnalyticsDB(cfg.AnalyticsDB)
	if err != nil {
		return err
	}
	defer db.Close()

	text, err := fetchSchemaText(cmd.Context(), dbschema.NewSQLiteFetcher(db))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}
