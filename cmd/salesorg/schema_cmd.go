package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"io/fs"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/iota-uz/salesorg/modules/org/infrastructure/persistence"
)

type schemaMigrationLine struct {
	Version   int64      `json:"version"`
	Path      string     `json:"path"`
	State     string     `json:"state"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	Duration  string     `json:"duration,omitempty"`
}

func newSchemaCmd(_ *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Apply or inspect the org schema migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProvider(cmd.Context(), func(ctx context.Context, p *goose.Provider) error {
				return runSchemaUp(ctx, p, cmd.OutOrStdout())
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProvider(cmd.Context(), func(ctx context.Context, p *goose.Provider) error {
				res, err := p.Down(ctx)
				if err != nil {
					return withCode(exitDBWrite, fmt.Errorf("schema down: %w", err))
				}
				return writeJSONLine(cmd.OutOrStdout(), resultLine(res, "rolled_back"))
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProvider(cmd.Context(), func(ctx context.Context, p *goose.Provider) error {
				return runSchemaStatus(ctx, p, cmd.OutOrStdout())
			})
		},
	})
	return cmd
}

func withProvider(ctx context.Context, fn func(context.Context, *goose.Provider) error) error {
	conf := loadConfig()
	db, err := sql.Open("pgx", conf.Database.Opts)
	if err != nil {
		return withCode(exitDB, fmt.Errorf("db open failed: %w", err))
	}
	defer db.Close()

	p, err := newSchemaProvider(db)
	if err != nil {
		return withCode(exitDB, err)
	}
	return fn(ctx, p)
}

func newSchemaProvider(db *sql.DB) (*goose.Provider, error) {
	fsys, err := fs.Sub(persistence.MigrationFiles, persistence.MigrationDir)
	if err != nil {
		return nil, fmt.Errorf("schema files: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("schema provider: %w", err)
	}
	return p, nil
}

func runSchemaUp(ctx context.Context, p *goose.Provider, w io.Writer) error {
	results, err := p.Up(ctx)
	if err != nil {
		return withCode(exitDBWrite, fmt.Errorf("schema up: %w", err))
	}
	for _, r := range results {
		if err := writeJSONLine(w, resultLine(r, "applied")); err != nil {
			return err
		}
	}
	return nil
}

func runSchemaStatus(ctx context.Context, p *goose.Provider, w io.Writer) error {
	statuses, err := p.Status(ctx)
	if err != nil {
		return withCode(exitDB, fmt.Errorf("schema status: %w", err))
	}
	for _, s := range statuses {
		line := schemaMigrationLine{State: string(s.State)}
		if s.Source != nil {
			line.Version = s.Source.Version
			line.Path = s.Source.Path
		}
		if !s.AppliedAt.IsZero() {
			at := s.AppliedAt.UTC()
			line.AppliedAt = &at
		}
		if err := writeJSONLine(w, line); err != nil {
			return err
		}
	}
	return nil
}

func resultLine(r *goose.MigrationResult, state string) schemaMigrationLine {
	line := schemaMigrationLine{State: state}
	if r == nil {
		return line
	}
	if r.Source != nil {
		line.Version = r.Source.Version
		line.Path = r.Source.Path
	}
	line.Duration = r.Duration.String()
	return line
}
