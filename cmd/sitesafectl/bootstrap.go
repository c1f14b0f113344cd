package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sitesafe.app/internal/tenancy"
)

func newBootstrapAdminCmd(opts *rootOptions) *cobra.Command {
	var in tenancy.AdminInput
	cmd := &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create the platform super admin",
		Long: "Creates the single super_admin account. Fails if one already exists.\n" +
			"The password may also be supplied via SITESAFE_BOOTSTRAP_PASSWORD.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if in.Password == "" {
				in.Password = os.Getenv("SITESAFE_BOOTSTRAP_PASSWORD")
			}
			if in.Password == "" {
				return errors.New("missing password: pass --password or set SITESAFE_BOOTSTRAP_PASSWORD")
			}
			ctx, cancel := opts.withTimeout(cmd.Context())
			defer cancel()
			store, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			p, err := tenancy.NewProvisioner(store, store, store, store)
			if err != nil {
				return err
			}
			u, err := p.BootstrapSuperAdmin(ctx, in)
			if err != nil {
				return fmt.Errorf("bootstrap admin: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created super admin %s (%s)\n", u.Email, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Email, "email", "", "login email")
	cmd.Flags().StringVar(&in.Name, "name", "", "display name (defaults to the email local part)")
	cmd.Flags().StringVar(&in.Password, "password", "", "initial password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
