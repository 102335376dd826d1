package persistence_test

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/membership"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/unit"
	"github.com/iota-uz/salesorg/modules/org/infrastructure/legacy"
	"github.com/iota-uz/salesorg/modules/org/infrastructure/persistence"
	"github.com/iota-uz/salesorg/modules/org/migration"
	"github.com/iota-uz/salesorg/pkg/composables"
	"github.com/iota-uz/salesorg/pkg/configuration"
)

// newPgTestDB creates a throwaway database with the org schema applied, or
// skips when postgres is not reachable.
func newPgTestDB(tb testing.TB, ctx context.Context) context.Context {
	tb.Helper()

	conf, err := configuration.Load(nil)
	require.NoError(tb, err)
	tb.Cleanup(conf.Unload)
	db := conf.Database

	adminDSN := "postgres://" + db.User + ":" + db.Password + "@" + db.Host + ":" + db.Port + "/postgres?sslmode=disable"
	dialCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	adminConn, err := pgx.Connect(dialCtx, adminDSN)
	if err != nil {
		tb.Skip("postgres is not reachable; skipping integration test")
	}
	tb.Cleanup(func() { _ = adminConn.Close(ctx) })

	dbName := "salesorg_" + strings.ToLower(strings.ReplaceAll(tb.Name(), "/", "_"))
	dbName = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, dbName)

	_, _ = adminConn.Exec(ctx, "DROP DATABASE IF EXISTS "+dbName)
	if _, err := adminConn.Exec(ctx, "CREATE DATABASE "+dbName); err != nil {
		tb.Skip("failed to create test database; skipping integration test")
	}

	pool, err := pgxpool.New(ctx, "postgres://"+db.User+":"+db.Password+"@"+db.Host+":"+db.Port+"/"+dbName+"?sslmode=disable")
	require.NoError(tb, err)
	tb.Cleanup(func() {
		pool.Close()
		_, _ = adminConn.Exec(ctx, "DROP DATABASE IF EXISTS "+dbName)
	})

	sqlDB := stdlib.OpenDBFromPool(pool)
	tb.Cleanup(func() { _ = sqlDB.Close() })
	fsys, err := fs.Sub(persistence.MigrationFiles, persistence.MigrationDir)
	require.NoError(tb, err)
	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, fsys)
	require.NoError(tb, err)
	_, err = provider.Up(ctx)
	require.NoError(tb, err)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	ctx = composables.WithLogger(ctx, logrus.NewEntry(logger))
	return composables.WithPool(ctx, pool)
}

func TestPgStore_InTxRollsBackOnError(t *testing.T) {
	ctx := newPgTestDB(t, context.Background())
	store := persistence.NewPgStore()

	for _, p := range position.DefaultSalesPositions() {
		_, err := store.CreatePositionType(ctx, p)
		require.NoError(t, err)
	}
	u, err := store.CreateUnit(ctx, unit.New("SALES_A", "Team A", unit.TypeSales, nil, ""))
	require.NoError(t, err)

	err = store.InTx(ctx, func(txCtx context.Context) error {
		_, err := store.CreateMembership(txCtx, membership.New(uuid.New(), "Ana", u.ID, position.CodeAgent, time.Now(), "", ""))
		require.NoError(t, err)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	got, err := store.ListMembershipsByUnit(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = store.GetUnitByCode(ctx, "SALES_MISSING")
	require.ErrorIs(t, err, unit.ErrNotFound)
}

func TestPgStore_LegacyMigrationRoundTrip(t *testing.T) {
	ctx := newPgTestDB(t, context.Background())
	store := persistence.NewPgStore()

	src, err := legacy.LoadFixture(filepath.Join("..", "legacy", "testdata", "north_team.yaml"))
	require.NoError(t, err)

	res, err := migration.NewMigrator(src, store).MigrateLegacyHierarchy(ctx, migration.Options{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Summary.UnitsCreated)
	require.Equal(t, 4, res.Summary.MembershipsCreated)

	u, err := store.GetUnitByCode(ctx, unit.LegacyCode("North Team"))
	require.NoError(t, err)
	members, err := store.ListMembershipsByUnit(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, members, 4)
	relations, err := store.ListRelationsByUnit(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, relations, 4)
	structures, err := store.ListStructuresByUnit(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, structures, 1)

	again, err := migration.NewMigrator(src, store).MigrateLegacyHierarchy(ctx, migration.Options{})
	require.NoError(t, err)
	require.Zero(t, again.Summary.MembershipsCreated)
	require.Zero(t, again.Summary.RelationsCreated)
}
