package legacy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
	"github.com/iota-uz/salesorg/modules/org/infrastructure/persistence"
	"github.com/iota-uz/salesorg/modules/org/migration"
)

func loadNorthTeam(t *testing.T) *FixtureSource {
	t.Helper()
	src, err := LoadFixture(filepath.Join("testdata", "north_team.yaml"))
	require.NoError(t, err)
	return src
}

func TestFixtureSource_WalksNestedRows(t *testing.T) {
	src := loadNorthTeam(t)
	ctx := context.Background()

	teams, err := src.ListTeams(ctx)
	require.NoError(t, err)
	require.Len(t, teams, 2)
	require.True(t, teams[0].Active)
	require.False(t, teams[1].Active)

	managers, err := src.ListManagers(ctx, 1)
	require.NoError(t, err)
	require.Len(t, managers, 1)
	require.Equal(t, userID(1), managers[0].UserID)
	require.Equal(t, "Ana Ruiz", managers[0].UserDisplayName)

	supervisors, err := src.ListChildren(ctx, position.CodeManager, 1)
	require.NoError(t, err)
	require.Len(t, supervisors, 2)
	require.Equal(t, position.CodeSupervisor, supervisors[1].Role)

	agents, err := src.ListChildren(ctx, position.CodeTeamLead, 20)
	require.NoError(t, err)
	require.Len(t, agents, 3)
	require.Equal(t, uuid.Nil, agents[2].UserID, "user 99 is not in the users table")

	none, err := src.ListChildren(ctx, position.CodeAgent, 30)
	require.NoError(t, err)
	require.Empty(t, none)

	direct, err := src.ListDirectSupervisions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, direct, 1)
	require.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), direct[0].StartDate.UTC())
	require.True(t, direct[0].Active)

	table, err := src.GetCommissionTable(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "15.00", table.Percentages[position.CodeTeamLead])

	_, err = src.GetCommissionTable(ctx, 2)
	require.ErrorIs(t, err, migration.ErrNoCommissionTable)
}

func TestParseFixture_RejectsBadShapes(t *testing.T) {
	_, err := ParseFixture([]byte("version: 2\n"))
	require.Error(t, err)

	_, err = ParseFixture([]byte(`
teams:
  - id: 1
    name: A
    managers:
      - {id: 1, user: 1}
      - {id: 1, user: 2}
`))
	require.ErrorContains(t, err, "duplicate MANAGER row id 1")

	_, err = ParseFixture([]byte(`
teams:
  - id: 1
    name: A
    managers:
      - id: 1
        reports:
          - id: 2
            reports:
              - id: 3
                reports:
                  - id: 4
                    reports:
                      - id: 5
`))
	require.ErrorContains(t, err, "cannot have reports")
}

func TestFixtureSource_MigratesEndToEnd(t *testing.T) {
	store := persistence.NewMemoryStore()
	m := migration.NewMigrator(loadNorthTeam(t), store)

	res, err := m.MigrateLegacyHierarchy(context.Background(), migration.Options{})
	require.NoError(t, err)
	require.Equal(t, migration.Summary{
		UnitsCreated:        1,
		PositionsCreated:    4,
		MembershipsCreated:  4,
		RelationsCreated:    3,
		DirectSupervisions:  1,
		CommissionsMigrated: 1,
		Warnings:            1,
		Errors:              1,
	}, res.Summary)

	ms, err := store.ListMembershipsByUser(context.Background(), userID(1))
	require.NoError(t, err)
	require.Len(t, ms, 1)
	require.Equal(t, position.CodeManager, ms[0].PositionCode())
}
