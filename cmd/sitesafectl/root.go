package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"sitesafe.app/internal/store/pg"
)

type rootOptions struct {
	dsn     string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "sitesafectl",
		Short:         "Operator tooling for the SiteSafe auth backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			if opts.dsn == "" {
				opts.dsn = os.Getenv("SITESAFE_PG_DSN")
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (default $SITESAFE_PG_DSN)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall command timeout")

	cmd.AddCommand(newMigrateCmd(opts), newBootstrapAdminCmd(opts), newHealthCmd(opts))
	return cmd
}

// open connects to Postgres and fails fast when it is unreachable.
func (o *rootOptions) open(ctx context.Context) (*pg.Store, error) {
	if o.dsn == "" {
		return nil, errors.New("missing DSN: pass --dsn or set SITESAFE_PG_DSN")
	}
	store, err := pg.Open(o.dsn)
	if err != nil {
		return nil, err
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

func (o *rootOptions) withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, o.timeout)
}
