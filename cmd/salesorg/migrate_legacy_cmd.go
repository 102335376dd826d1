package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iota-uz/salesorg/modules/org/infrastructure/legacy"
	"github.com/iota-uz/salesorg/modules/org/migration"
)

const (
	sourceFixture  = "fixture"
	sourcePostgres = "postgres"
)

type migrateLegacyOptions struct {
	dryRun  bool
	verbose bool
	source  string
	fixture string
	logFile string
}

type migrateLegacySummary struct {
	DryRun  bool              `json:"dry_run"`
	Source  string            `json:"source"`
	LogFile string            `json:"log_file"`
	Summary migration.Summary `json:"summary"`
}

func newMigrateLegacyCmd(g *globalOptions) *cobra.Command {
	var opts migrateLegacyOptions

	cmd := &cobra.Command{
		Use:   "migrate-legacy",
		Short: "Collapse the legacy per-role sales tables into units, memberships and relations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), g, "migrate-legacy")
			if err != nil {
				return err
			}
			defer a.Close()
			return runMigrateLegacy(cmd, a, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Run the migration and roll every change back")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "Keep DEBUG events in the migration log")
	cmd.Flags().StringVar(&opts.source, "source", sourcePostgres, "Legacy source: postgres|fixture")
	cmd.Flags().StringVar(&opts.fixture, "fixture", "", "Legacy fixture YAML (with --source=fixture)")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "Migration log path (default: ORG_MIGRATION_LOG_DIR/legacy_migration_<ts>.log)")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		opts.source = strings.ToLower(stringsTrim(opts.source))
		switch opts.source {
		case sourceFixture:
			if stringsTrim(opts.fixture) == "" {
				return withCode(exitUsage, fmt.Errorf("--fixture is required with --source=%s", sourceFixture))
			}
		case sourcePostgres:
		default:
			return withCode(exitUsage, fmt.Errorf("invalid --source %q (expected %s|%s)", opts.source, sourcePostgres, sourceFixture))
		}
		return nil
	}
	return cmd
}

func runMigrateLegacy(cmd *cobra.Command, a *app, opts migrateLegacyOptions) error {
	var source migration.LegacySource
	switch opts.source {
	case sourceFixture:
		src, err := legacy.LoadFixture(opts.fixture)
		if err != nil {
			return withCode(exitUsage, err)
		}
		source = src
	default:
		if stringsTrim(a.conf.Legacy.DSN) == "" {
			return withCode(exitUsage, fmt.Errorf("LEGACY_DB_DSN is not set"))
		}
		src, err := legacy.OpenSQLSource(a.ctx, a.conf.Legacy.DSN)
		if err != nil {
			return withCode(exitDB, err)
		}
		defer src.Close()
		source = src
	}

	res, runErr := a.org.Migrator(source).MigrateLegacyHierarchy(a.ctx, migration.Options{
		DryRun:  opts.dryRun,
		Verbose: opts.verbose,
	})

	logPath := opts.logFile
	if stringsTrim(logPath) == "" {
		logPath = filepath.Join(a.conf.Org.MigrationLogDir,
			fmt.Sprintf("legacy_migration_%s.log", time.Now().UTC().Format("20060102_150405")))
	}
	if res != nil {
		if err := writeMigrationLog(logPath, res.Log()); err != nil {
			return withCode(exitDBWrite, fmt.Errorf("write migration log: %w", err))
		}
	}

	if runErr != nil {
		if errors.Is(runErr, migration.ErrSourceUnavailable) {
			return withCode(exitDB, runErr)
		}
		return withCode(exitDBWrite, runErr)
	}
	return writeJSONLine(cmd.OutOrStdout(), migrateLegacySummary{
		DryRun:  opts.dryRun,
		Source:  opts.source,
		LogFile: logPath,
		Summary: res.Summary,
	})
}

func writeMigrationLog(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return os.WriteFile(filepath.Clean(path), []byte(b.String()), 0o644)
}
