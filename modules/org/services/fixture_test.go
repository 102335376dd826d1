package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/commission"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/membership"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/relation"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/unit"
	"github.com/iota-uz/salesorg/modules/org/infrastructure/locks"
	"github.com/iota-uz/salesorg/modules/org/infrastructure/persistence"
	"github.com/iota-uz/salesorg/pkg/composables"
)

var (
	fixedNow     = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	memberSince  = fixedNow.AddDate(0, -3, 0)
	relatedSince = fixedNow.AddDate(0, -1, 0)
	errBoom      = errors.New("boom")
)

// defaultTable sums to 80 across all four levels.
var defaultTable = map[string]string{
	"MANAGER":    "5.00",
	"SUPERVISOR": "10.00",
	"TEAM_LEAD":  "15.00",
	"AGENT":      "50.00",
}

type fixture struct {
	t          *testing.T
	ctx        context.Context
	mem        *persistence.MemoryStore
	store      Store
	opts       Options
	unit       unit.Unit
	directory  *DirectoryService
	members    *MembershipService
	structures *CommissionStructureService
	calc       *CommissionCalculator
	analyzer   *HierarchyAnalyzer
}

type fixtureOption func(*fixture)

func withOptions(fn func(*Options)) fixtureOption {
	return func(f *fixture) { fn(&f.opts) }
}

func withStore(wrap func(*persistence.MemoryStore) Store) fixtureOption {
	return func(f *fixture) { f.store = wrap(f.mem) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	mem := persistence.NewMemoryStore()
	f := &fixture{
		t:     t,
		ctx:   composables.WithLogger(context.Background(), logrus.NewEntry(logger)),
		mem:   mem,
		store: mem,
		opts: Options{
			MaxChainDepth: 64,
			CyclePolicy:   CyclePolicyRefuse,
			Now:           func() time.Time { return fixedNow },
		},
	}
	for _, o := range opts {
		o(f)
	}
	locker := locks.NewLocalLocker()
	f.directory = NewDirectoryService(f.store, f.opts)
	f.members = NewMembershipService(f.store, locker, f.opts)
	f.structures = NewCommissionStructureService(f.store, locker, f.opts)
	f.calc = NewCommissionCalculator(f.store, locker, f.opts)
	f.analyzer = NewHierarchyAnalyzer(f.store, locker, f.opts)

	_, err := f.directory.EnsureDefaultPositions(f.ctx)
	require.NoError(t, err)
	f.unit = f.newUnit("SALES_NORTH", "North")
	return f
}

func (f *fixture) newUnit(code, name string) unit.Unit {
	f.t.Helper()
	u, err := f.directory.CreateUnit(f.ctx, CreateUnitInput{Code: code, Name: name, Type: "SALES"})
	require.NoError(f.t, err)
	return u
}

func (f *fixture) member(name string, code position.Code) membership.Membership {
	f.t.Helper()
	return f.memberIn(f.unit, name, code)
}

func (f *fixture) memberIn(u unit.Unit, name string, code position.Code) membership.Membership {
	f.t.Helper()
	m, err := f.members.AssignMember(f.ctx, AssignMemberInput{
		UserID:          uuid.New(),
		UserDisplayName: name,
		UnitID:          u.ID,
		PositionCode:    string(code),
		StartDate:       memberSince,
	})
	require.NoError(f.t, err)
	return m
}

func (f *fixture) relate(sup, sub membership.Membership, typ relation.Type) relation.Relation {
	f.t.Helper()
	r, err := f.members.AddRelation(f.ctx, AddRelationInput{
		SupervisorMembershipID:  sup.ID(),
		SubordinateMembershipID: sub.ID(),
		Type:                    string(typ),
		StartDate:               relatedSince,
	})
	require.NoError(f.t, err)
	return r
}

// forceRelate stores a relation without any of the write-time checks, the
// way inconsistent legacy data ends up in the store.
func (f *fixture) forceRelate(sup, sub membership.Membership, typ relation.Type, primary bool) relation.Relation {
	f.t.Helper()
	r, err := f.mem.CreateRelation(f.ctx, relation.New(sup.ID(), sub.ID(), typ, relation.AuthorityFull, primary, relatedSince, "forced"))
	require.NoError(f.t, err)
	return r
}

func (f *fixture) setStructure(table map[string]string) commission.Structure {
	f.t.Helper()
	s, err := f.structures.SetCommissionStructure(f.ctx, SetStructureInput{
		UnitID:        f.unit.ID,
		Name:          "Standard",
		Percentages:   table,
		EffectiveFrom: memberSince,
	})
	require.NoError(f.t, err)
	return s
}

func requireCode(t *testing.T, err error, status int, code string) {
	t.Helper()
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, status, svcErr.Status)
	require.Equal(t, code, svcErr.Code)
}

// chain builds MANAGER -> SUPERVISOR -> TEAM_LEAD -> AGENT joined by NORMAL lines.
type chain struct {
	manager, supervisor, lead, agent membership.Membership
}

func (f *fixture) normalChain() chain {
	f.t.Helper()
	c := chain{
		manager:    f.member("Mara", position.CodeManager),
		supervisor: f.member("Sam", position.CodeSupervisor),
		lead:       f.member("Lee", position.CodeTeamLead),
		agent:      f.member("Ana", position.CodeAgent),
	}
	f.relate(c.manager, c.supervisor, relation.TypeNormal)
	f.relate(c.supervisor, c.lead, relation.TypeNormal)
	f.relate(c.lead, c.agent, relation.TypeNormal)
	return c
}

// loopedChain is SUPERVISOR -> TEAM_LEAD -> AGENT plus a forced line making
// the team lead supervise the supervisor.
func (f *fixture) loopedChain() chain {
	f.t.Helper()
	c := chain{
		supervisor: f.member("Sam", position.CodeSupervisor),
		lead:       f.member("Lee", position.CodeTeamLead),
		agent:      f.member("Ana", position.CodeAgent),
	}
	f.relate(c.supervisor, c.lead, relation.TypeNormal)
	f.relate(c.lead, c.agent, relation.TypeNormal)
	f.forceRelate(c.lead, c.supervisor, relation.TypeNormal, true)
	f.setStructure(defaultTable)
	return c
}
