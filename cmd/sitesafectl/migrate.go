package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"sitesafe.app/internal/migrate"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, cancel := opts.withTimeout(cmd.Context())
				defer cancel()
				store, err := opts.open(ctx)
				if err != nil {
					return err
				}
				defer store.Close()

				applied, err := migrate.NewManager(store.DB()).Up(ctx)
				if err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				}
				for _, name := range applied {
					fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, cancel := opts.withTimeout(cmd.Context())
				defer cancel()
				store, err := opts.open(ctx)
				if err != nil {
					return err
				}
				defer store.Close()

				name, err := migrate.NewManager(store.DB()).Down(ctx)
				if errors.Is(err, migrate.ErrNoMigrations) {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
					return nil
				}
				if err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back", name)
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and when they were applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, cancel := opts.withTimeout(cmd.Context())
				defer cancel()
				store, err := opts.open(ctx)
				if err != nil {
					return err
				}
				defer store.Close()

				statuses, err := migrate.NewManager(store.DB()).Status(ctx)
				if err != nil {
					return fmt.Errorf("migrate status: %w", err)
				}
				for _, s := range statuses {
					applied := "pending"
					if s.AppliedAt != nil {
						applied = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s\n", s.Name, applied)
				}
				return nil
			},
		},
	)
	return cmd
}
