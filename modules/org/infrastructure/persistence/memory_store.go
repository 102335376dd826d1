package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/commission"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/membership"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/relation"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/unit"
)

type memState struct {
	positions   map[position.Code]position.PositionType
	units       map[uuid.UUID]unit.Unit
	memberships map[uuid.UUID]membership.Membership
	relations   map[uuid.UUID]relation.Relation
	structures  map[uuid.UUID]commission.Structure
}

func newMemState() *memState {
	return &memState{
		positions:   map[position.Code]position.PositionType{},
		units:       map[uuid.UUID]unit.Unit{},
		memberships: map[uuid.UUID]membership.Membership{},
		relations:   map[uuid.UUID]relation.Relation{},
		structures:  map[uuid.UUID]commission.Structure{},
	}
}

// clone is shallow per entity; stored values are immutable so sharing them is safe.
func (s *memState) clone() *memState {
	out := &memState{
		positions:   make(map[position.Code]position.PositionType, len(s.positions)),
		units:       make(map[uuid.UUID]unit.Unit, len(s.units)),
		memberships: make(map[uuid.UUID]membership.Membership, len(s.memberships)),
		relations:   make(map[uuid.UUID]relation.Relation, len(s.relations)),
		structures:  make(map[uuid.UUID]commission.Structure, len(s.structures)),
	}
	for k, v := range s.positions {
		out.positions[k] = v
	}
	for k, v := range s.units {
		out.units[k] = v
	}
	for k, v := range s.memberships {
		out.memberships[k] = v
	}
	for k, v := range s.relations {
		out.relations[k] = v
	}
	for k, v := range s.structures {
		out.structures[k] = v
	}
	return out
}

type memTxKey struct{}

type memTx struct {
	store *MemoryStore
	state *memState
}

// MemoryStore keeps the org graph in process. Transactions work on a private
// copy that replaces the committed state on success, so readers outside a
// transaction always see the last committed snapshot. Writers are serialized.
type MemoryStore struct {
	writer    sync.Mutex
	mu        sync.RWMutex
	committed *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{committed: newMemState()}
}

func (m *MemoryStore) txFrom(ctx context.Context) *memTx {
	tx, ok := ctx.Value(memTxKey{}).(*memTx)
	if !ok || tx.store != m {
		return nil
	}
	return tx
}

// InTx runs fn against a private copy of the store. Nested calls behave like
// savepoints: a failing inner fn restores the state it started from.
func (m *MemoryStore) InTx(ctx context.Context, fn func(context.Context) error) error {
	if tx := m.txFrom(ctx); tx != nil {
		saved := tx.state.clone()
		if err := fn(ctx); err != nil {
			tx.state = saved
			return err
		}
		return nil
	}

	m.writer.Lock()
	defer m.writer.Unlock()

	m.mu.RLock()
	tx := &memTx{store: m, state: m.committed.clone()}
	m.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}

	m.mu.Lock()
	m.committed = tx.state
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) read(ctx context.Context, fn func(*memState) error) error {
	if tx := m.txFrom(ctx); tx != nil {
		return fn(tx.state)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.committed)
}

func (m *MemoryStore) write(ctx context.Context, fn func(*memState) error) error {
	if tx := m.txFrom(ctx); tx != nil {
		return fn(tx.state)
	}
	return m.InTx(ctx, func(txCtx context.Context) error {
		return fn(m.txFrom(txCtx).state)
	})
}

func (m *MemoryStore) ListPositionTypes(ctx context.Context) ([]position.PositionType, error) {
	var out []position.PositionType
	err := m.read(ctx, func(s *memState) error {
		for _, p := range s.positions {
			out = append(out, p)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].HierarchyLevel != out[j].HierarchyLevel {
			return out[i].HierarchyLevel < out[j].HierarchyLevel
		}
		return out[i].Code < out[j].Code
	})
	return out, err
}

func (m *MemoryStore) GetPositionType(ctx context.Context, code position.Code) (position.PositionType, error) {
	var out position.PositionType
	err := m.read(ctx, func(s *memState) error {
		p, ok := s.positions[code]
		if !ok {
			return gerrors.Wrapf(position.ErrNotFound, "code %s", code)
		}
		out = p
		return nil
	})
	return out, err
}

func (m *MemoryStore) CreatePositionType(ctx context.Context, p position.PositionType) (position.PositionType, error) {
	err := m.write(ctx, func(s *memState) error {
		if _, exists := s.positions[p.Code]; exists {
			return gerrors.Wrapf(position.ErrDuplicate, "code %s", p.Code)
		}
		s.positions[p.Code] = p
		return nil
	})
	return p, err
}

func (m *MemoryStore) GetUnit(ctx context.Context, id uuid.UUID) (unit.Unit, error) {
	var out unit.Unit
	err := m.read(ctx, func(s *memState) error {
		u, ok := s.units[id]
		if !ok {
			return gerrors.Wrapf(unit.ErrNotFound, "id %s", id)
		}
		out = u
		return nil
	})
	return out, err
}

func (m *MemoryStore) GetUnitByCode(ctx context.Context, code string) (unit.Unit, error) {
	var out unit.Unit
	err := m.read(ctx, func(s *memState) error {
		for _, u := range s.units {
			if u.Code == code {
				out = u
				return nil
			}
		}
		return gerrors.Wrapf(unit.ErrNotFound, "code %s", code)
	})
	return out, err
}

func (m *MemoryStore) ListUnits(ctx context.Context) ([]unit.Unit, error) {
	var out []unit.Unit
	err := m.read(ctx, func(s *memState) error {
		for _, u := range s.units {
			out = append(out, u)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, err
}

func (m *MemoryStore) CreateUnit(ctx context.Context, u unit.Unit) (unit.Unit, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	err := m.write(ctx, func(s *memState) error {
		for _, existing := range s.units {
			if existing.Code == u.Code || strings.EqualFold(existing.Name, u.Name) {
				return gerrors.Wrapf(unit.ErrDuplicate, "code %s", u.Code)
			}
		}
		if u.ParentID != nil {
			if _, ok := s.units[*u.ParentID]; !ok {
				return gerrors.Wrapf(unit.ErrNotFound, "parent %s", *u.ParentID)
			}
		}
		s.units[u.ID] = u
		return nil
	})
	return u, err
}

func (m *MemoryStore) GetMembership(ctx context.Context, id uuid.UUID) (membership.Membership, error) {
	var out membership.Membership
	err := m.read(ctx, func(s *memState) error {
		v, ok := s.memberships[id]
		if !ok {
			return gerrors.Wrapf(membership.ErrNotFound, "id %s", id)
		}
		out = v
		return nil
	})
	return out, err
}

func (m *MemoryStore) ListMembershipsByUnit(ctx context.Context, unitID uuid.UUID) ([]membership.Membership, error) {
	return m.listMemberships(ctx, func(v membership.Membership) bool { return v.UnitID() == unitID })
}

func (m *MemoryStore) ListMembershipsByUser(ctx context.Context, userID uuid.UUID) ([]membership.Membership, error) {
	return m.listMemberships(ctx, func(v membership.Membership) bool { return v.UserID() == userID })
}

func (m *MemoryStore) listMemberships(ctx context.Context, keep func(membership.Membership) bool) ([]membership.Membership, error) {
	var out []membership.Membership
	err := m.read(ctx, func(s *memState) error {
		for _, v := range s.memberships {
			if keep(v) {
				out = append(out, v)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID().String() < out[j].ID().String() })
	return out, err
}

func activeConflict(s *memState, m membership.Membership) bool {
	if m.Status() != membership.StatusActive {
		return false
	}
	for _, other := range s.memberships {
		if other.ID() != m.ID() &&
			other.UserID() == m.UserID() &&
			other.UnitID() == m.UnitID() &&
			other.Status() == membership.StatusActive {
			return true
		}
	}
	return false
}

func (m *MemoryStore) CreateMembership(ctx context.Context, v membership.Membership) (membership.Membership, error) {
	err := m.write(ctx, func(s *memState) error {
		if _, ok := s.units[v.UnitID()]; !ok {
			return gerrors.Wrapf(unit.ErrNotFound, "unit %s", v.UnitID())
		}
		if _, ok := s.positions[v.PositionCode()]; !ok {
			return gerrors.Wrapf(position.ErrNotFound, "code %s", v.PositionCode())
		}
		if activeConflict(s, v) {
			return gerrors.Wrapf(membership.ErrActiveExists, "user %s unit %s", v.UserID(), v.UnitID())
		}
		s.memberships[v.ID()] = v
		return nil
	})
	return v, err
}

func (m *MemoryStore) UpdateMembership(ctx context.Context, v membership.Membership) error {
	return m.write(ctx, func(s *memState) error {
		if _, ok := s.memberships[v.ID()]; !ok {
			return gerrors.Wrapf(membership.ErrNotFound, "id %s", v.ID())
		}
		if activeConflict(s, v) {
			return gerrors.Wrapf(membership.ErrActiveExists, "user %s unit %s", v.UserID(), v.UnitID())
		}
		s.memberships[v.ID()] = v
		return nil
	})
}

func (m *MemoryStore) GetRelation(ctx context.Context, id uuid.UUID) (relation.Relation, error) {
	var out relation.Relation
	err := m.read(ctx, func(s *memState) error {
		r, ok := s.relations[id]
		if !ok {
			return gerrors.Wrapf(relation.ErrNotFound, "id %s", id)
		}
		out = r
		return nil
	})
	return out, err
}

func (m *MemoryStore) ListRelationsByUnit(ctx context.Context, unitID uuid.UUID) ([]relation.Relation, error) {
	var out []relation.Relation
	err := m.read(ctx, func(s *memState) error {
		for _, r := range s.relations {
			sup, supOK := s.memberships[r.SupervisorID]
			sub, subOK := s.memberships[r.SubordinateID]
			if (supOK && sup.UnitID() == unitID) || (subOK && sub.UnitID() == unitID) {
				out = append(out, r)
			}
		}
		return nil
	})
	sortRelations(out)
	return out, err
}

func (m *MemoryStore) ListRelationsByMembership(ctx context.Context, membershipID uuid.UUID) ([]relation.Relation, error) {
	var out []relation.Relation
	err := m.read(ctx, func(s *memState) error {
		for _, r := range s.relations {
			if r.Touches(membershipID) {
				out = append(out, r)
			}
		}
		return nil
	})
	sortRelations(out)
	return out, err
}

func sortRelations(rs []relation.Relation) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID.String() < rs[j].ID.String() })
}

func (m *MemoryStore) CreateRelation(ctx context.Context, r relation.Relation) (relation.Relation, error) {
	err := m.write(ctx, func(s *memState) error {
		for _, id := range []uuid.UUID{r.SupervisorID, r.SubordinateID} {
			if _, ok := s.memberships[id]; !ok {
				return gerrors.Wrapf(membership.ErrNotFound, "relation endpoint %s", id)
			}
		}
		s.relations[r.ID] = r
		return nil
	})
	return r, err
}

func (m *MemoryStore) UpdateRelation(ctx context.Context, r relation.Relation) error {
	return m.write(ctx, func(s *memState) error {
		if _, ok := s.relations[r.ID]; !ok {
			return gerrors.Wrapf(relation.ErrNotFound, "id %s", r.ID)
		}
		s.relations[r.ID] = r
		return nil
	})
}

func (m *MemoryStore) ListStructuresByUnit(ctx context.Context, unitID uuid.UUID) ([]commission.Structure, error) {
	var out []commission.Structure
	err := m.read(ctx, func(s *memState) error {
		for _, v := range s.structures {
			if v.UnitID() == unitID {
				out = append(out, v)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EffectiveFrom().Equal(out[j].EffectiveFrom()) {
			return out[i].EffectiveFrom().Before(out[j].EffectiveFrom())
		}
		return out[i].ID().String() < out[j].ID().String()
	})
	return out, err
}

func (m *MemoryStore) CreateStructure(ctx context.Context, v commission.Structure) (commission.Structure, error) {
	err := m.write(ctx, func(s *memState) error {
		if _, ok := s.units[v.UnitID()]; !ok {
			return gerrors.Wrapf(unit.ErrNotFound, "unit %s", v.UnitID())
		}
		s.structures[v.ID()] = v
		return nil
	})
	return v, err
}

func (m *MemoryStore) UpdateStructure(ctx context.Context, v commission.Structure) error {
	return m.write(ctx, func(s *memState) error {
		if _, ok := s.structures[v.ID()]; !ok {
			return gerrors.Wrapf(commission.ErrNotFound, "id %s", v.ID())
		}
		s.structures[v.ID()] = v
		return nil
	})
}
