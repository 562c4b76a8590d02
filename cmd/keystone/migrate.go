package main

import (
	"errors"

	"github.com/spf13/cobra"

	"keystone/internal/platform/postgres"
)

func migrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Database.URL == "" {
				return errors.New("KEYSTONE_DATABASE_URL is required")
			}
			db, err := postgres.Open(cmd.Context(), a.cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			a.logger.Info("migrations applied")
			return nil
		},
	}
}
