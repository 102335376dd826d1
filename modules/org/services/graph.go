package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/commission"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/membership"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/relation"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/unit"
)

// Graph is an id-keyed snapshot of one unit's supervision graph as of a
// point in time. Traversals only ever look ids up in these tables.
type Graph struct {
	unit       unit.Unit
	asOf       time.Time
	hierarchy  position.Hierarchy
	positions  map[position.Code]position.PositionType
	structures []commission.Structure

	// memberships holds the unit's members plus any foreign relation endpoint.
	memberships map[uuid.UUID]membership.Membership
	// members are the unit's memberships active at asOf, sorted by id.
	members   []uuid.UUID
	relations map[uuid.UUID]relation.Relation
	incoming  map[uuid.UUID][]uuid.UUID
	outgoing  map[uuid.UUID][]uuid.UUID
}

// loadGraph must run inside a transaction so every read sees the same snapshot.
func loadGraph(ctx context.Context, store Store, unitID uuid.UUID, asOf time.Time) (*Graph, error) {
	u, err := store.GetUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	types, err := store.ListPositionTypes(ctx)
	if err != nil {
		return nil, err
	}
	members, err := store.ListMembershipsByUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	rels, err := store.ListRelationsByUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	structures, err := store.ListStructuresByUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}

	g := &Graph{
		unit:        u,
		asOf:        asOf,
		hierarchy:   position.NewHierarchy(types, u.Type),
		positions:   make(map[position.Code]position.PositionType, len(types)),
		structures:  structures,
		memberships: make(map[uuid.UUID]membership.Membership, len(members)),
		relations:   make(map[uuid.UUID]relation.Relation, len(rels)),
		incoming:    map[uuid.UUID][]uuid.UUID{},
		outgoing:    map[uuid.UUID][]uuid.UUID{},
	}
	for _, p := range types {
		g.positions[p.Code] = p
	}
	for _, m := range members {
		g.memberships[m.ID()] = m
		if m.IsActiveAt(asOf) {
			g.members = append(g.members, m.ID())
		}
	}
	sortIDs(g.members)

	for _, r := range rels {
		if !r.IsActiveAt(asOf) {
			continue
		}
		for _, id := range []uuid.UUID{r.SupervisorID, r.SubordinateID} {
			if _, ok := g.memberships[id]; ok {
				continue
			}
			foreign, err := store.GetMembership(ctx, id)
			if errors.Is(err, membership.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			g.memberships[id] = foreign
		}
		_, supOK := g.memberships[r.SupervisorID]
		_, subOK := g.memberships[r.SubordinateID]
		if !supOK || !subOK {
			continue
		}
		g.relations[r.ID] = r
		g.incoming[r.SubordinateID] = append(g.incoming[r.SubordinateID], r.ID)
		g.outgoing[r.SupervisorID] = append(g.outgoing[r.SupervisorID], r.ID)
	}
	for _, ids := range g.incoming {
		sortIDs(ids)
	}
	for _, ids := range g.outgoing {
		sortIDs(ids)
	}
	return g, nil
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}

func (g *Graph) Unit() unit.Unit                    { return g.unit }
func (g *Graph) AsOf() time.Time                    { return g.asOf }
func (g *Graph) Hierarchy() position.Hierarchy      { return g.hierarchy }
func (g *Graph) Structures() []commission.Structure { return g.structures }

func (g *Graph) membership(id uuid.UUID) (membership.Membership, bool) {
	m, ok := g.memberships[id]
	return m, ok
}

func (g *Graph) inUnit(id uuid.UUID) bool {
	m, ok := g.memberships[id]
	return ok && m.UnitID() == g.unit.ID
}

func (g *Graph) level(m membership.Membership) (int, bool) {
	return g.hierarchy.Level(m.PositionCode())
}

func (g *Graph) incomingRelations(id uuid.UUID) []relation.Relation {
	out := make([]relation.Relation, 0, len(g.incoming[id]))
	for _, rid := range g.incoming[id] {
		out = append(out, g.relations[rid])
	}
	return out
}

func (g *Graph) outgoingRelations(id uuid.UUID) []relation.Relation {
	out := make([]relation.Relation, 0, len(g.outgoing[id]))
	for _, rid := range g.outgoing[id] {
		out = append(out, g.relations[rid])
	}
	return out
}

// supervisorsOf returns the distinct supervisors over every active line.
func (g *Graph) supervisorsOf(id uuid.UUID) []uuid.UUID {
	seen := map[uuid.UUID]struct{}{}
	var out []uuid.UUID
	for _, r := range g.incomingRelations(id) {
		if _, dup := seen[r.SupervisorID]; dup {
			continue
		}
		seen[r.SupervisorID] = struct{}{}
		out = append(out, r.SupervisorID)
	}
	sortIDs(out)
	return out
}

func commissionRank(t relation.Type) int {
	if t == relation.TypeDirect {
		return 0
	}
	return 1
}

// commissionSupervisor picks the one line commission follows upward from id:
// DIRECT before NORMAL, then primary first, then earliest start, then id.
// Lines to supervisors that are not active at asOf are ignored.
func (g *Graph) commissionSupervisor(id uuid.UUID) (relation.Relation, bool) {
	var candidates []relation.Relation
	for _, r := range g.incomingRelations(id) {
		if !r.Type.CarriesCommission() {
			continue
		}
		sup, ok := g.memberships[r.SupervisorID]
		if !ok || !sup.IsActiveAt(g.asOf) {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return relation.Relation{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if ra, rb := commissionRank(a.Type), commissionRank(b.Type); ra != rb {
			return ra < rb
		}
		if a.IsPrimary != b.IsPrimary {
			return a.IsPrimary
		}
		if !a.StartDate.Equal(b.StartDate) {
			return a.StartDate.Before(b.StartDate)
		}
		return a.ID.String() < b.ID.String()
	})
	return candidates[0], true
}
