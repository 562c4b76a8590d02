package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"keystone/internal/platform/postgres"
)

func backfillCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill-member-numbers",
		Short: "Allocate member numbers to every enrolled member without one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Database.URL == "" {
				return errors.New("KEYSTONE_DATABASE_URL is required")
			}
			ctx := cmd.Context()
			db, err := postgres.Open(ctx, a.cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			svc := buildServices(db, a.cfg.Database, a.logger, nil)
			allocated, err := svc.members.AllocateMissing(ctx)
			for _, al := range allocated {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", al.MemberID, al.MemberNumber)
			}
			if err != nil {
				return fmt.Errorf("backfill stopped after %d allocations: %w", len(allocated), err)
			}
			a.logger.Info("member number backfill complete", "allocated", len(allocated))
			return nil
		},
	}
}
