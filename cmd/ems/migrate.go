package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"ems.org/internal/migrate"
)

const migrateTimeout = 30 * time.Second

func migrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the employee directory schema",
	}
	opts.bindPersistentFlag(cmd, "database.dsn", "dsn", "PostgreSQL DSN (default EMS_DATABASE_DSN)")

	step := func(use, short string, fn func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, opts, func(ctx context.Context, m *migrate.Manager) error {
					return fn(ctx, cmd, m)
				})
			},
		}
	}

	cmd.AddCommand(
		step("up", "Apply pending migrations", func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
			applied, err := m.Up(ctx)
			for _, name := range applied {
				cmd.Println("applied", name)
			}
			return err
		}),
		step("down", "Revert the latest migration", func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
			name, err := m.Down(ctx)
			if errors.Is(err, migrate.ErrNothingApplied) {
				cmd.Println("nothing to revert")
				return nil
			}
			if err == nil {
				cmd.Println("reverted", name)
			}
			return err
		}),
		step("status", "List applied migrations", func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
			history, err := m.Status(ctx)
			for _, name := range history {
				cmd.Println(name)
			}
			return err
		}),
		step("seed", "Apply seed data", func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
			applied, err := m.Seed(ctx)
			for _, name := range applied {
				cmd.Println("seeded", name)
			}
			return err
		}),
	)
	return cmd
}

func withManager(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, m *migrate.Manager) error) error {
	cfg, err := opts.load(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return errors.New("missing DSN: provide --dsn or EMS_DATABASE_DSN")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
	defer cancel()

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	return fn(ctx, migrate.NewManager(db))
}
