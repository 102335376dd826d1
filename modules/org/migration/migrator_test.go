package migration

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/membership"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/relation"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
	"github.com/iota-uz/salesorg/modules/org/infrastructure/persistence"
)

var (
	fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	errDown  = errors.New("connection refused")

	ana = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	bob = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	cid = uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	dan = uuid.MustParse("00000000-0000-0000-0000-00000000000d")
	eve = uuid.MustParse("00000000-0000-0000-0000-00000000000e")
)

type stubSource struct {
	teams       []Team
	rows        map[position.Code][]RoleRow
	direct      map[int64][]DirectSupervision
	tables      map[int64]CommissionTable
	teamsErr    error
	directErr   map[int64]error
	childrenErr map[rowKey]error
}

func newStubSource() *stubSource {
	return &stubSource{
		rows:        map[position.Code][]RoleRow{},
		direct:      map[int64][]DirectSupervision{},
		tables:      map[int64]CommissionTable{},
		directErr:   map[int64]error{},
		childrenErr: map[rowKey]error{},
	}
}

// add stores a role row; for managers parent is the team id.
func (s *stubSource) add(role position.Code, id, parent int64, user uuid.UUID, name string) {
	s.rows[role] = append(s.rows[role], RoleRow{
		ID: id, Role: role, ParentID: parent, UserID: user, UserDisplayName: name, Active: true,
	})
}

func (s *stubSource) ListTeams(context.Context) ([]Team, error) {
	if s.teamsErr != nil {
		return nil, s.teamsErr
	}
	return s.teams, nil
}

func (s *stubSource) byParent(role position.Code, parent int64) []RoleRow {
	var out []RoleRow
	for _, r := range s.rows[role] {
		if r.ParentID == parent {
			out = append(out, r)
		}
	}
	return out
}

func (s *stubSource) ListManagers(_ context.Context, teamID int64) ([]RoleRow, error) {
	return s.byParent(position.CodeManager, teamID), nil
}

func (s *stubSource) ListChildren(_ context.Context, parentRole position.Code, parentRowID int64) ([]RoleRow, error) {
	if err := s.childrenErr[rowKey{role: parentRole, id: parentRowID}]; err != nil {
		return nil, err
	}
	child, ok := ChildRole(parentRole)
	if !ok {
		return nil, nil
	}
	return s.byParent(child, parentRowID), nil
}

func (s *stubSource) ListDirectSupervisions(_ context.Context, teamID int64) ([]DirectSupervision, error) {
	if err := s.directErr[teamID]; err != nil {
		return nil, err
	}
	return s.direct[teamID], nil
}

func (s *stubSource) GetCommissionTable(_ context.Context, teamID int64) (CommissionTable, error) {
	t, ok := s.tables[teamID]
	if !ok {
		return CommissionTable{}, ErrNoCommissionTable
	}
	return t, nil
}

// northTeam has ana as manager, supervisor and agent at once:
//
//	M1 ana -> S10 ana
//	M1 ana -> S11 bob -> T20 cid -> A30 ana
//	                             -> A31 dan
//
// plus a direct supervision ana -> dan.
func northTeam() *stubSource {
	s := newStubSource()
	s.teams = []Team{{ID: 1, Name: "North Team", Description: "Northern region", Active: true}}
	s.add(position.CodeManager, 1, 1, ana, "Ana")
	s.add(position.CodeSupervisor, 10, 1, ana, "Ana")
	s.add(position.CodeSupervisor, 11, 1, bob, "Bob")
	s.add(position.CodeTeamLead, 20, 11, cid, "Cid")
	s.add(position.CodeAgent, 30, 20, ana, "Ana")
	s.add(position.CodeAgent, 31, 20, dan, "Dan")
	s.direct[1] = []DirectSupervision{{
		ID: 7, TeamID: 1, SupervisorUserID: ana, SubordinateUserID: dan,
		StartDate: fixedNow.AddDate(-1, 0, 0), Notes: "key account", Active: true,
	}}
	s.tables[1] = CommissionTable{
		TeamID: 1,
		Percentages: map[position.Code]string{
			position.CodeManager: "5.00", position.CodeSupervisor: "10.00",
			position.CodeTeamLead: "15.00", position.CodeAgent: "50.00",
		},
		Active:    true,
		CreatedAt: fixedNow.AddDate(-2, 0, 0),
	}
	return s
}

func newMigrator(src LegacySource, store Store) *Migrator {
	return NewMigrator(src, store, WithClock(func() time.Time { return fixedNow }))
}

type counts struct {
	positions, units, memberships, relations, structures int
}

func countStore(t *testing.T, store *persistence.MemoryStore) counts {
	t.Helper()
	ctx := context.Background()
	var c counts
	positions, err := store.ListPositionTypes(ctx)
	require.NoError(t, err)
	c.positions = len(positions)
	units, err := store.ListUnits(ctx)
	require.NoError(t, err)
	c.units = len(units)
	for _, u := range units {
		ms, err := store.ListMembershipsByUnit(ctx, u.ID)
		require.NoError(t, err)
		c.memberships += len(ms)
		rs, err := store.ListRelationsByUnit(ctx, u.ID)
		require.NoError(t, err)
		c.relations += len(rs)
		ss, err := store.ListStructuresByUnit(ctx, u.ID)
		require.NoError(t, err)
		c.structures += len(ss)
	}
	return c
}

func membershipsOf(t *testing.T, store Store, userID uuid.UUID) []membership.Membership {
	t.Helper()
	ms, err := store.ListMembershipsByUser(context.Background(), userID)
	require.NoError(t, err)
	return ms
}

func TestMigrateLegacyHierarchy_CollapsesRolesIntoOneMembership(t *testing.T) {
	store := persistence.NewMemoryStore()
	res, err := newMigrator(northTeam(), store).MigrateLegacyHierarchy(context.Background(), Options{})
	require.NoError(t, err)

	ms := membershipsOf(t, store, ana)
	require.Len(t, ms, 1)
	require.Equal(t, position.CodeManager, ms[0].PositionCode())
	require.Contains(t, ms[0].Notes(), "Roles detected: MANAGER, SUPERVISOR, AGENT")

	require.Equal(t, Summary{
		UnitsCreated:        1,
		PositionsCreated:    4,
		MembershipsCreated:  4,
		RelationsCreated:    3,
		DirectSupervisions:  1,
		CommissionsMigrated: 1,
		Warnings:            1,
	}, res.Summary)
}

func TestMigrateLegacyHierarchy_ReplaysOnlyLegacyLines(t *testing.T) {
	store := persistence.NewMemoryStore()
	_, err := newMigrator(northTeam(), store).MigrateLegacyHierarchy(context.Background(), Options{})
	require.NoError(t, err)

	ctx := context.Background()
	u, err := store.GetUnitByCode(ctx, "SALES_NORTH_TEAM")
	require.NoError(t, err)
	require.Equal(t, "Northern region", u.Description)

	byUser := map[uuid.UUID]membership.Membership{}
	ms, err := store.ListMembershipsByUnit(ctx, u.ID)
	require.NoError(t, err)
	for _, m := range ms {
		byUser[m.UserID()] = m
	}

	rels, err := store.ListRelationsByUnit(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, rels, 4)

	type line struct {
		sup, sub uuid.UUID
		typ      relation.Type
	}
	var got []line
	for _, r := range rels {
		var sup, sub uuid.UUID
		for user, m := range byUser {
			if m.ID() == r.SupervisorID {
				sup = user
			}
			if m.ID() == r.SubordinateID {
				sub = user
			}
		}
		got = append(got, line{sup: sup, sub: sub, typ: r.Type})
		if r.Type == relation.TypeDirect {
			require.False(t, r.IsPrimary)
			require.Equal(t, "Direct supervision migrated: key account", r.Justification)
		} else {
			require.True(t, r.IsPrimary)
		}
	}
	require.ElementsMatch(t, []line{
		{ana, bob, relation.TypeNormal},
		{bob, cid, relation.TypeNormal},
		{cid, dan, relation.TypeNormal},
		{ana, dan, relation.TypeDirect},
	}, got)
}

func TestMigrateLegacyHierarchy_IsIdempotent(t *testing.T) {
	store := persistence.NewMemoryStore()
	m := newMigrator(northTeam(), store)

	_, err := m.MigrateLegacyHierarchy(context.Background(), Options{})
	require.NoError(t, err)
	first := countStore(t, store)

	res, err := m.MigrateLegacyHierarchy(context.Background(), Options{Verbose: true})
	require.NoError(t, err)
	require.Equal(t, first, countStore(t, store))
	require.Equal(t, counts{positions: 4, units: 1, memberships: 4, relations: 4, structures: 1}, first)

	s := res.Summary
	require.Zero(t, s.UnitsCreated+s.PositionsCreated+s.MembershipsCreated+s.RelationsCreated+s.DirectSupervisions+s.CommissionsMigrated)
	require.Zero(t, s.Errors)

	var sawExisting bool
	for _, e := range res.Events {
		if e.Level == LevelDebug && strings.Contains(e.Message, "membership already exists") {
			sawExisting = true
		}
	}
	require.True(t, sawExisting)
}

func TestMigrateLegacyHierarchy_EndedDirectSupervisionIsIdempotent(t *testing.T) {
	src := northTeam()
	end := fixedNow.AddDate(0, -1, 0)
	src.direct[1][0].EndDate = &end
	store := persistence.NewMemoryStore()
	m := newMigrator(src, store)

	first, err := m.MigrateLegacyHierarchy(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, first.Summary.DirectSupervisions)
	after := countStore(t, store)
	require.Equal(t, 4, after.relations)

	second, err := m.MigrateLegacyHierarchy(context.Background(), Options{})
	require.NoError(t, err)
	require.Zero(t, second.Summary.DirectSupervisions)
	require.Zero(t, second.Summary.Errors)
	require.Equal(t, after, countStore(t, store))
}

func TestMigrateLegacyHierarchy_DryRunLeavesStoreEmpty(t *testing.T) {
	committed := persistence.NewMemoryStore()
	want, err := newMigrator(northTeam(), committed).MigrateLegacyHierarchy(context.Background(), Options{})
	require.NoError(t, err)

	dry := persistence.NewMemoryStore()
	got, err := newMigrator(northTeam(), dry).MigrateLegacyHierarchy(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	require.True(t, got.DryRun)
	require.Equal(t, want.Summary, got.Summary)
	require.Equal(t, counts{}, countStore(t, dry))

	log := got.Log()
	require.NotEmpty(t, log)
	require.Contains(t, strings.Join(log, "\n"), "dry run: all changes rolled back")
	for _, e := range got.Events {
		require.NotEqual(t, LevelDebug, e.Level)
	}
}

func TestMigrateLegacyHierarchy_SkipsBrokenRows(t *testing.T) {
	src := northTeam()
	src.add(position.CodeAgent, 32, 20, uuid.Nil, "Ghost")
	src.direct[1] = append(src.direct[1], DirectSupervision{
		ID: 8, TeamID: 1, SupervisorUserID: ana, SubordinateUserID: eve, Active: true,
	})

	store := persistence.NewMemoryStore()
	res, err := newMigrator(src, store).MigrateLegacyHierarchy(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Summary.Errors)
	require.Equal(t, 4, res.Summary.MembershipsCreated)
	require.Equal(t, 1, res.Summary.DirectSupervisions)

	var errorLines []string
	for _, e := range res.Events {
		if e.Level == LevelError {
			require.Equal(t, int64(1), e.TeamID)
			errorLines = append(errorLines, e.String())
		}
	}
	require.Len(t, errorLines, 2)
	require.Contains(t, errorLines[1], "user_id="+eve.String())
}

func TestMigrateLegacyHierarchy_LostSubtreeKeepsRest(t *testing.T) {
	src := northTeam()
	src.childrenErr[rowKey{role: position.CodeSupervisor, id: 11}] = errDown

	store := persistence.NewMemoryStore()
	res, err := newMigrator(src, store).MigrateLegacyHierarchy(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Summary.MembershipsCreated)
	require.Empty(t, membershipsOf(t, store, cid))

	// The direct supervision points at dan, who was never reached.
	require.Equal(t, 2, res.Summary.Errors)
	require.Zero(t, res.Summary.DirectSupervisions)
}

func TestMigrateLegacyHierarchy_FailedUnitRollsBackAlone(t *testing.T) {
	src := northTeam()
	src.teams = append(src.teams, Team{ID: 2, Name: "South Team", Active: true})
	src.add(position.CodeManager, 2, 2, eve, "Eve")
	src.directErr[2] = errDown

	store := persistence.NewMemoryStore()
	res, err := newMigrator(src, store).MigrateLegacyHierarchy(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Summary.UnitsCreated)
	require.Equal(t, 1, res.Summary.Errors)

	ctx := context.Background()
	_, err = store.GetUnitByCode(ctx, "SALES_NORTH_TEAM")
	require.NoError(t, err)
	_, err = store.GetUnitByCode(ctx, "SALES_SOUTH_TEAM")
	require.Error(t, err)
	require.Empty(t, membershipsOf(t, store, eve))
}

func TestMigrateLegacyHierarchy_UnreachableSourceIsFatal(t *testing.T) {
	src := northTeam()
	src.teamsErr = errDown

	store := persistence.NewMemoryStore()
	res, err := newMigrator(src, store).MigrateLegacyHierarchy(context.Background(), Options{})
	require.ErrorIs(t, err, ErrSourceUnavailable)
	require.ErrorIs(t, err, errDown)
	require.NotNil(t, res)
	require.Equal(t, counts{}, countStore(t, store))
}

func TestMigrateLegacyHierarchy_TeamWithoutCommissionTableWarns(t *testing.T) {
	src := northTeam()
	delete(src.tables, 1)

	store := persistence.NewMemoryStore()
	res, err := newMigrator(src, store).MigrateLegacyHierarchy(context.Background(), Options{})
	require.NoError(t, err)
	require.Zero(t, res.Summary.CommissionsMigrated)
	require.Equal(t, 2, res.Summary.Warnings)
}

func TestAnalyzeUserRolesInTeam(t *testing.T) {
	m := newMigrator(northTeam(), persistence.NewMemoryStore())

	roles, err := m.AnalyzeUserRolesInTeam(context.Background(), 1, ana)
	require.NoError(t, err)
	require.Equal(t, []position.Code{position.CodeManager, position.CodeSupervisor, position.CodeAgent}, roles)

	roles, err = m.AnalyzeUserRolesInTeam(context.Background(), 1, eve)
	require.NoError(t, err)
	require.Empty(t, roles)
}
