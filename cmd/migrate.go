package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	"github.com/spf13/cobra"
)

type migrateConfig struct {
	DatabaseURL     string
	MigrationsTable string
	MigrationsPath  string
}

const (
	defaultMigrationsSchema = "portalauth"
	defaultMigrationsTable  = "schema_migrations"
	defaultMigrationsPath   = "pkg/storage/postgres/migrations"
)

func init() {
	rootCmd.AddCommand(newMigrateCommand())
}

func newMigrateCommand() *cobra.Command {
	cfg := migrateConfig{
		MigrationsTable: defaultMigrationsSchema + "." + defaultMigrationsTable,
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the audit log schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	migrateCmd.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", "", "Database connection URL. Can also be set via PORTALAUTH_MIGRATE_DATABASE_URL.")
	migrateCmd.PersistentFlags().StringVar(&cfg.MigrationsTable, "migrations-table", cfg.MigrationsTable, "Migrations version table, as table or schema.table.")
	migrateCmd.PersistentFlags().StringVar(&cfg.MigrationsPath, "migrations-path", "", "Path or source URL for migration files.")

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up [steps]",
		Short: "Apply audit schema migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, hasSteps, err := parseMigrationStepsArg(args)
			if err != nil {
				return err
			}

			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, sourceURL string) error {
				if hasSteps {
					err = runner.Steps(steps)
				} else {
					err = runner.Up()
				}

				if err != nil {
					if isNoChangeBoundaryError(err) {
						cmd.Println("No schema changes to apply.")
						return nil
					}
					return fmt.Errorf("apply migrations: %w", err)
				}

				if hasSteps {
					cmd.Printf("Applied %d migration step(s) from %s\n", steps, sourceURL)
					return nil
				}

				cmd.Printf("Applied all pending migrations from %s\n", sourceURL)
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back audit schema migrations by step count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _, err := parseMigrationStepsArg(args)
			if err != nil {
				return err
			}

			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, sourceURL string) error {
				if err := runner.Steps(-steps); err != nil {
					if isNoChangeBoundaryError(err) {
						cmd.Println("No schema changes to rollback.")
						return nil
					}
					return fmt.Errorf("rollback migrations: %w", err)
				}

				cmd.Printf("Rolled back %d migration step(s) from %s\n", steps, sourceURL)
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force-set migration version (-1 for nil version)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil || version < -1 {
				return fmt.Errorf("invalid force version %q: expected an integer >= -1", args[0])
			}

			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, _ string) error {
				if err := runner.Force(version); err != nil {
					return fmt.Errorf("force migration version: %w", err)
				}

				cmd.Printf("Forced migration version to %d.\n", version)
				return nil
			})
		},
	})

	return migrateCmd
}

func withMigrationRunner(cmd *cobra.Command, cfg migrateConfig, fn func(runner *migrate.Migrate, sourceURL string) error) error {
	runner, sourceURL, err := newMigrationRunner(cfg)
	if err != nil {
		return err
	}
	defer func() {
		sourceErr, databaseErr := runner.Close()
		if closeErr := errors.Join(sourceErr, databaseErr); closeErr != nil {
			cmd.PrintErrf("warning: failed to close migration runner cleanly: %v\n", closeErr)
		}
	}()

	return fn(runner, sourceURL)
}

func newMigrationRunner(cfg migrateConfig) (*migrate.Migrate, string, error) {
	databaseURL, err := resolveDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		return nil, "", err
	}

	schema, table, err := splitMigrationsTable(cfg.MigrationsTable)
	if err != nil {
		return nil, "", err
	}

	if schema != "" {
		if err := ensureMigrationsSchemaExists(databaseURL, schema); err != nil {
			return nil, "", err
		}
	}

	databaseURL, err = applyMigrationsTable(databaseURL, schema, table)
	if err != nil {
		return nil, "", err
	}

	sourceURL, err := resolveMigrationsSourceURL(cfg.MigrationsPath)
	if err != nil {
		return nil, "", err
	}

	runner, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("create migrate runner: %w", err)
	}
	return runner, sourceURL, nil
}

func resolveDatabaseURL(flagValue string) (string, error) {
	databaseURL := strings.TrimSpace(flagValue)
	if databaseURL == "" {
		databaseURL = lookupEnv("PORTALAUTH_MIGRATE_DATABASE_URL")
	}
	if databaseURL == "" {
		databaseURL = lookupEnv("PORTALAUTH_DATABASE_URL")
	}
	if databaseURL == "" {
		return "", errors.New("missing database URL: set --database-url or PORTALAUTH_MIGRATE_DATABASE_URL")
	}
	return databaseURL, nil
}

func parseMigrationStepsArg(args []string) (int, bool, error) {
	if len(args) == 0 {
		return 0, false, nil
	}

	steps, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || steps <= 0 {
		return 0, false, fmt.Errorf("invalid migration steps %q: expected a positive integer", args[0])
	}

	return steps, true, nil
}

func splitMigrationsTable(value string) (schema string, table string, err error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return defaultMigrationsSchema, defaultMigrationsTable, nil
	}

	parts := strings.Split(raw, ".")
	switch len(parts) {
	case 1:
		if strings.TrimSpace(parts[0]) == "" {
			return "", "", fmt.Errorf("invalid migrations table %q", value)
		}
		return "", parts[0], nil
	case 2:
		if strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return "", "", fmt.Errorf("invalid migrations table %q", value)
		}
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("invalid migrations table %q: expected table or schema.table", value)
	}
}

func applyMigrationsTable(databaseURL string, schema string, table string) (string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse --database-url: %w", err)
	}

	query := parsed.Query()
	if strings.TrimSpace(query.Get("x-migrations-table")) != "" {
		return databaseURL, nil
	}

	if schema != "" {
		query.Set("x-migrations-table", pq.QuoteIdentifier(schema)+"."+pq.QuoteIdentifier(table))
		query.Set("x-migrations-table-quoted", "true")
	} else {
		query.Set("x-migrations-table", table)
	}

	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func ensureMigrationsSchemaExists(databaseURL string, schema string) error {
	parsedURL, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("parse --database-url: %w", err)
	}
	sanitized := migrate.FilterCustomQuery(parsedURL)

	db, err := sql.Open("postgres", sanitized.String())
	if err != nil {
		return fmt.Errorf("open database for schema bootstrap: %w", err)
	}
	defer db.Close()

	query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(schema))
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("ensure migrations schema %q exists: %w", schema, err)
	}

	return nil
}

func resolveMigrationsSourceURL(migrationsPath string) (string, error) {
	pathOrURL := strings.TrimSpace(migrationsPath)
	if pathOrURL == "" {
		pathOrURL = defaultMigrationsPath
	}

	if strings.Contains(pathOrURL, "://") {
		return pathOrURL, nil
	}

	absPath, err := filepath.Abs(pathOrURL)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path %q: %w", pathOrURL, err)
	}

	return "file://" + filepath.ToSlash(absPath), nil
}

func isNoChangeBoundaryError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, migrate.ErrNoChange) {
		return true
	}

	// golang-migrate returns bare os.ErrNotExist when a step command reaches
	// the migration boundary.
	return err == os.ErrNotExist
}
