package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/projectrefill/refill-backend/pkg/migrate"
)

func newMigrateCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	var dir string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Write an empty migration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := migrate.Create(dir, args[0], time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "created", path)
			return nil
		},
	}
	create.Flags().StringVar(&dir, "dir", migrate.SourceDir, "migrations directory")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check the embedded migration files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := migrate.Validate(migrate.Files()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations valid")
			return nil
		},
	}

	cmd.AddCommand(
		create,
		validate,
		newMigrationRunCmd(open, "up", "Apply every pending migration", cobra.NoArgs,
			func(ctx context.Context, m *migrate.Migrator, _ []string) ([]migrate.Result, error) { return m.Up(ctx) }),
		newMigrationRunCmd(open, "down", "Roll back the latest migration", cobra.NoArgs,
			func(ctx context.Context, m *migrate.Migrator, _ []string) ([]migrate.Result, error) { return m.Down(ctx) }),
		newMigrationRunCmd(open, "to <version>", "Migrate up or down to a version", cobra.ExactArgs(1),
			func(ctx context.Context, m *migrate.Migrator, args []string) ([]migrate.Result, error) {
				return m.To(ctx, args[0])
			}),
		newMigrationStatusCmd(open),
	)
	return cmd
}

type migrationRun func(ctx context.Context, m *migrate.Migrator, args []string) ([]migrate.Result, error)

func newMigrationRunCmd(open opener, use, short string, args cobra.PositionalArgs, run migrationRun) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, argv []string) error {
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			if rt.cfg.DB.IsSQLite() {
				if cmd.Name() != "up" {
					return fmt.Errorf("migrate %s is not supported on sqlite", cmd.Name())
				}
				if err := migrate.AutoMigrateModels(rt.db); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "sqlite schema migrated from models")
				return nil
			}

			migrator, err := openMigrator(rt)
			if err != nil {
				return err
			}
			results, err := run(cmd.Context(), migrator, argv)
			printResults(cmd.OutOrStdout(), results)
			return err
		},
	}
}

func newMigrationStatusCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			migrator, err := openMigrator(rt)
			if err != nil {
				return err
			}
			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tAPPLIED AT\tFILE")
			for _, st := range statuses {
				applied := "pending"
				if st.Applied {
					applied = st.AppliedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\n", st.Version, applied, st.Path)
			}
			return tw.Flush()
		},
	}
}

func openMigrator(rt *runtime) (*migrate.Migrator, error) {
	sqlDB, err := rt.db.SQLDB()
	if err != nil {
		return nil, fmt.Errorf("extract sql.DB: %w", err)
	}
	return migrate.New(sqlDB, nil)
}

func printResults(w io.Writer, results []migrate.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "no migrations to run")
		return
	}
	for _, r := range results {
		fmt.Fprintf(w, "%-4s %d %s (%s)\n", r.Direction, r.Version, r.Path, r.Duration.Round(time.Millisecond))
	}
}
