package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/relation"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
)

type ConflictType string

const (
	ConflictCircularReporting          ConflictType = "CIRCULAR_REPORTING"
	ConflictMultiplePrimarySupervisors ConflictType = "MULTIPLE_PRIMARY_SUPERVISORS"
	ConflictCommissionOverAllocation   ConflictType = "COMMISSION_OVER_ALLOCATION"
	ConflictNoCommissionStructure      ConflictType = "NO_COMMISSION_STRUCTURE"
	ConflictCrossUnitRelation          ConflictType = "CROSS_UNIT_RELATION"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type Conflict struct {
	Type         ConflictType `json:"type"`
	Severity     Severity     `json:"severity"`
	UnitID       uuid.UUID    `json:"unit_id"`
	MembershipID *uuid.UUID   `json:"membership_id,omitempty"`
	// MembershipIDs lists the memberships on a cycle, starting at MembershipID.
	MembershipIDs []uuid.UUID `json:"membership_ids,omitempty"`
	StructureID   *uuid.UUID  `json:"structure_id,omitempty"`
	Description   string      `json:"description"`
}

type HierarchyAnalyzer struct {
	store  Store
	locker UnitLocker
	opts   Options
}

func NewHierarchyAnalyzer(store Store, locker UnitLocker, opts Options) *HierarchyAnalyzer {
	return &HierarchyAnalyzer{store: store, locker: locker, opts: opts.normalized()}
}

// FindPotentialConflicts is kept for callers of the older name.
func (a *HierarchyAnalyzer) FindPotentialConflicts(ctx context.Context, unitID uuid.UUID) ([]Conflict, error) {
	return a.ValidateHierarchyConsistency(ctx, unitID)
}

// ValidateHierarchyConsistency reports structural defects of a unit as of now.
// Findings are data, not errors: the graph may legitimately sit in a
// transitional state between administrative edits.
func (a *HierarchyAnalyzer) ValidateHierarchyConsistency(ctx context.Context, unitID uuid.UUID) (_ []Conflict, err error) {
	ctx, span := startSpan(ctx, "org.analyzer.validate", attribute.String("unit_id", unitID.String()))
	defer func() { endSpan(span, err) }()

	asOf := a.opts.Now().UTC()
	g, err := withUnitReadLock(ctx, a.locker, a.store, unitID, func(txCtx context.Context) (*Graph, error) {
		return loadGraph(txCtx, a.store, unitID, asOf)
	})
	if err != nil {
		return nil, mapError(err)
	}

	conflicts := analyzeGraph(g)
	for _, c := range conflicts {
		recordConflict(c.Type)
	}
	logWithFields(ctx, logrus.InfoLevel, "org.analyzer.validated", logrus.Fields{
		"unit_id":   unitID.String(),
		"conflicts": len(conflicts),
	})
	return conflicts, nil
}

func analyzeGraph(g *Graph) []Conflict {
	var out []Conflict
	out = append(out, findCycles(g)...)
	out = append(out, findMultiplePrimaries(g)...)
	out = append(out, findCrossUnitRelations(g)...)
	out = append(out, checkStructures(g)...)
	return out
}

func ptr[T any](v T) *T { return &v }

// findCycles walks every simple path up the supervision lines from each active
// member in id order and reports each distinct cycle once. Only members whose
// ancestry is proven cycle-free are memoized: a member sitting on one cycle may
// still close another one through a different path.
func findCycles(g *Graph) []Conflict {
	var out []Conflict
	acyclic := map[uuid.UUID]struct{}{}
	reported := map[string]struct{}{}

	for _, origin := range g.members {
		onPath := map[uuid.UUID]int{}
		var path []uuid.UUID

		// visit reports whether a cycle is reachable from id.
		var visit func(id uuid.UUID) bool
		visit = func(id uuid.UUID) bool {
			if idx, ok := onPath[id]; ok {
				cycle := append([]uuid.UUID(nil), path[idx:]...)
				key := cycleKey(cycle)
				if _, dup := reported[key]; dup {
					return true
				}
				reported[key] = struct{}{}
				out = append(out, Conflict{
					Type:          ConflictCircularReporting,
					Severity:      SeverityError,
					UnitID:        g.unit.ID,
					MembershipID:  ptr(origin),
					MembershipIDs: cycle,
					Description:   describeCycle(g, cycle),
				})
				return true
			}
			if _, ok := acyclic[id]; ok {
				return false
			}
			onPath[id] = len(path)
			path = append(path, id)
			cyclic := false
			for _, sup := range g.supervisorsOf(id) {
				if visit(sup) {
					cyclic = true
				}
			}
			path = path[:len(path)-1]
			delete(onPath, id)
			if !cyclic {
				acyclic[id] = struct{}{}
			}
			return cyclic
		}
		visit(origin)
	}
	return out
}

func cycleKey(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func describeCycle(g *Graph, cycle []uuid.UUID) string {
	names := make([]string, 0, len(cycle)+1)
	for _, id := range cycle {
		names = append(names, memberLabel(g, id))
	}
	names = append(names, memberLabel(g, cycle[0]))
	return "circular reporting: " + strings.Join(names, " -> ")
}

func memberLabel(g *Graph, id uuid.UUID) string {
	m, ok := g.membership(id)
	if !ok || m.UserDisplayName() == "" {
		return id.String()
	}
	return fmt.Sprintf("%s (%s)", m.UserDisplayName(), m.PositionCode())
}

func findMultiplePrimaries(g *Graph) []Conflict {
	var out []Conflict
	for _, id := range g.members {
		var primaries []string
		for _, r := range g.incomingRelations(id) {
			if r.IsPrimary {
				primaries = append(primaries, memberLabel(g, r.SupervisorID))
			}
		}
		if len(primaries) <= 1 {
			continue
		}
		out = append(out, Conflict{
			Type:         ConflictMultiplePrimarySupervisors,
			Severity:     SeverityError,
			UnitID:       g.unit.ID,
			MembershipID: ptr(id),
			Description: fmt.Sprintf("%s has %d primary supervisors: %s",
				memberLabel(g, id), len(primaries), strings.Join(primaries, ", ")),
		})
	}
	return out
}

func findCrossUnitRelations(g *Graph) []Conflict {
	ids := make([]uuid.UUID, 0, len(g.relations))
	for id := range g.relations {
		ids = append(ids, id)
	}
	sortIDs(ids)

	var out []Conflict
	for _, id := range ids {
		r := g.relations[id]
		local, foreign := r.SubordinateID, r.SupervisorID
		if !g.inUnit(local) {
			local, foreign = foreign, local
		}
		if g.inUnit(foreign) {
			continue
		}
		out = append(out, Conflict{
			Type:         ConflictCrossUnitRelation,
			Severity:     SeverityWarning,
			UnitID:       g.unit.ID,
			MembershipID: ptr(local),
			Description: fmt.Sprintf("%s relation between %s and %s crosses unit %s",
				r.Type, memberLabel(g, r.SupervisorID), memberLabel(g, r.SubordinateID), g.unit.Code),
		})
	}
	return out
}

func checkStructures(g *Graph) []Conflict {
	var out []Conflict
	effective := 0
	for _, s := range g.structures {
		if !s.IsEffectiveAt(g.asOf) {
			continue
		}
		effective++
		if !s.OverAllocated(g.hierarchy) {
			continue
		}
		out = append(out, Conflict{
			Type:        ConflictCommissionOverAllocation,
			Severity:    SeverityError,
			UnitID:      g.unit.ID,
			StructureID: ptr(s.ID()),
			Description: fmt.Sprintf("commission structure %q allocates %s%% in a single coverage band",
				s.Name(), s.MaxCoverageBand(g.hierarchy).StringFixed(2)),
		})
	}
	if effective == 0 {
		out = append(out, Conflict{
			Type:        ConflictNoCommissionStructure,
			Severity:    SeverityWarning,
			UnitID:      g.unit.ID,
			Description: fmt.Sprintf("unit %s has no active commission structure", g.unit.Code),
		})
	}
	return out
}

type TreeEdge struct {
	RelationID      uuid.UUID          `json:"relation_id"`
	MembershipID    uuid.UUID          `json:"membership_id"`
	UserID          uuid.UUID          `json:"user_id"`
	UserDisplayName string             `json:"user_display_name"`
	PositionCode    position.Code      `json:"position_code"`
	Type            relation.Type      `json:"type"`
	Authority       relation.Authority `json:"authority"`
	IsPrimary       bool               `json:"is_primary"`
}

// TreeNode is one adjacency-list level: a member and its direct subordinates.
// Deeper trees are assembled by the caller.
type TreeNode struct {
	MembershipID    uuid.UUID     `json:"membership_id"`
	UserID          uuid.UUID     `json:"user_id"`
	UserDisplayName string        `json:"user_display_name"`
	PositionCode    position.Code `json:"position_code"`
	HierarchyLevel  int           `json:"hierarchy_level"`
	Subordinates    []TreeEdge    `json:"subordinates"`
}

func (a *HierarchyAnalyzer) GetTeamHierarchyTree(ctx context.Context, unitID uuid.UUID) (_ []TreeNode, err error) {
	ctx, span := startSpan(ctx, "org.analyzer.tree", attribute.String("unit_id", unitID.String()))
	defer func() { endSpan(span, err) }()

	asOf := a.opts.Now().UTC()
	g, err := withUnitReadLock(ctx, a.locker, a.store, unitID, func(txCtx context.Context) (*Graph, error) {
		return loadGraph(txCtx, a.store, unitID, asOf)
	})
	if err != nil {
		return nil, mapError(err)
	}
	return buildTree(g), nil
}

func buildTree(g *Graph) []TreeNode {
	nodes := make([]TreeNode, 0, len(g.members))
	for _, id := range g.members {
		m, _ := g.membership(id)
		level, _ := g.level(m)
		node := TreeNode{
			MembershipID:    id,
			UserID:          m.UserID(),
			UserDisplayName: m.UserDisplayName(),
			PositionCode:    m.PositionCode(),
			HierarchyLevel:  level,
			Subordinates:    []TreeEdge{},
		}
		for _, r := range g.outgoingRelations(id) {
			sub, ok := g.membership(r.SubordinateID)
			if !ok {
				continue
			}
			node.Subordinates = append(node.Subordinates, TreeEdge{
				RelationID:      r.ID,
				MembershipID:    sub.ID(),
				UserID:          sub.UserID(),
				UserDisplayName: sub.UserDisplayName(),
				PositionCode:    sub.PositionCode(),
				Type:            r.Type,
				Authority:       r.Authority,
				IsPrimary:       r.IsPrimary,
			})
		}
		nodes = append(nodes, node)
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].HierarchyLevel < nodes[j].HierarchyLevel
	})
	return nodes
}

type ReportingLine struct {
	RelationID      uuid.UUID          `json:"relation_id"`
	MembershipID    uuid.UUID          `json:"membership_id"`
	UserID          uuid.UUID          `json:"user_id"`
	UserDisplayName string             `json:"user_display_name"`
	PositionCode    position.Code      `json:"position_code"`
	Type            relation.Type      `json:"type"`
	Authority       relation.Authority `json:"authority"`
	IsPrimary       bool               `json:"is_primary"`
}

type ReportingStructure struct {
	MembershipID uuid.UUID       `json:"membership_id"`
	UnitID       uuid.UUID       `json:"unit_id"`
	UnitCode     string          `json:"unit_code"`
	PositionCode position.Code   `json:"position_code"`
	Supervisors  []ReportingLine `json:"supervisors"`
	Subordinates []ReportingLine `json:"subordinates"`
}

// GetUserReportingStructure lists, per active membership of the user, who
// they report to and who reports to them. unitID narrows it to one unit.
func (a *HierarchyAnalyzer) GetUserReportingStructure(ctx context.Context, userID uuid.UUID, unitID *uuid.UUID) (_ []ReportingStructure, err error) {
	ctx, span := startSpan(ctx, "org.analyzer.reporting_structure", attribute.String("user_id", userID.String()))
	defer func() { endSpan(span, err) }()

	asOf := a.opts.Now().UTC()
	memberships, err := a.store.ListMembershipsByUser(ctx, userID)
	if err != nil {
		return nil, mapError(err)
	}

	var out []ReportingStructure
	for _, m := range memberships {
		if !m.IsActiveAt(asOf) {
			continue
		}
		if unitID != nil && m.UnitID() != *unitID {
			continue
		}
		rs, err := withUnitReadLock(ctx, a.locker, a.store, m.UnitID(), func(txCtx context.Context) (ReportingStructure, error) {
			g, err := loadGraph(txCtx, a.store, m.UnitID(), asOf)
			if err != nil {
				return ReportingStructure{}, err
			}
			return reportingStructure(g, m.ID()), nil
		})
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, rs)
	}
	return out, nil
}

func reportingStructure(g *Graph, id uuid.UUID) ReportingStructure {
	m, _ := g.membership(id)
	rs := ReportingStructure{
		MembershipID: id,
		UnitID:       g.unit.ID,
		UnitCode:     g.unit.Code,
		PositionCode: m.PositionCode(),
		Supervisors:  []ReportingLine{},
		Subordinates: []ReportingLine{},
	}
	line := func(r relation.Relation, other uuid.UUID) ReportingLine {
		o, _ := g.membership(other)
		return ReportingLine{
			RelationID:      r.ID,
			MembershipID:    other,
			UserID:          o.UserID(),
			UserDisplayName: o.UserDisplayName(),
			PositionCode:    o.PositionCode(),
			Type:            r.Type,
			Authority:       r.Authority,
			IsPrimary:       r.IsPrimary,
		}
	}
	for _, r := range g.incomingRelations(id) {
		rs.Supervisors = append(rs.Supervisors, line(r, r.SupervisorID))
	}
	for _, r := range g.outgoingRelations(id) {
		rs.Subordinates = append(rs.Subordinates, line(r, r.SubordinateID))
	}
	return rs
}
