package migration

import (
	"context"
	"sort"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
)

type rowKey struct {
	role position.Code
	id   int64
}

// legacyEdge is a parent row -> child row link between two different users.
type legacyEdge struct {
	supervisor  uuid.UUID
	subordinate uuid.UUID
}

// teamSnapshot is what the legacy tables say about one team once the role
// rows have been walked.
type teamSnapshot struct {
	teamID int64
	roles  map[uuid.UUID]map[position.Code]struct{}
	names  map[uuid.UUID]string
	users  []uuid.UUID
	edges  []legacyEdge
	linked map[legacyEdge]struct{}
}

func newTeamSnapshot(teamID int64) *teamSnapshot {
	return &teamSnapshot{
		teamID: teamID,
		roles:  map[uuid.UUID]map[position.Code]struct{}{},
		names:  map[uuid.UUID]string{},
		linked: map[legacyEdge]struct{}{},
	}
}

func (s *teamSnapshot) record(row RoleRow) {
	held, ok := s.roles[row.UserID]
	if !ok {
		held = map[position.Code]struct{}{}
		s.roles[row.UserID] = held
		s.users = append(s.users, row.UserID)
	}
	held[row.Role] = struct{}{}
	if s.names[row.UserID] == "" {
		s.names[row.UserID] = row.UserDisplayName
	}
}

func (s *teamSnapshot) link(supervisor, subordinate uuid.UUID) {
	if supervisor == subordinate {
		return
	}
	e := legacyEdge{supervisor: supervisor, subordinate: subordinate}
	if _, ok := s.linked[e]; ok {
		return
	}
	s.linked[e] = struct{}{}
	s.edges = append(s.edges, e)
}

// shouldCreate reports whether the legacy rows link supervisor to subordinate.
func (s *teamSnapshot) shouldCreate(supervisor, subordinate uuid.UUID) bool {
	_, ok := s.linked[legacyEdge{supervisor: supervisor, subordinate: subordinate}]
	return ok
}

// rolesOf lists the user's roles from most to least senior.
func (s *teamSnapshot) rolesOf(userID uuid.UUID) []position.Code {
	held := s.roles[userID]
	out := make([]position.Code, 0, len(held))
	for _, c := range legacyChain {
		if _, ok := held[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// highestRole picks the most senior role by hierarchy level. Roles the
// hierarchy does not know are ignored.
func highestRole(roles []position.Code, h position.Hierarchy) (position.Code, bool) {
	var (
		best      position.Code
		bestLevel int
		found     bool
	)
	for _, c := range roles {
		level, ok := h.Level(c)
		if !ok {
			continue
		}
		if !found || level < bestLevel {
			best, bestLevel, found = c, level, true
		}
	}
	return best, found
}

type walkItem struct {
	row        RoleRow
	parentUser uuid.UUID
}

// walkTeam follows the legacy chain from the team's managers down to its
// agents. Rows are visited once each; a child of an inactive or broken row is
// still migrated, only the edge to that parent is lost.
func (r *run) walkTeam(ctx context.Context, teamID int64) (*teamSnapshot, error) {
	managers, err := r.m.source.ListManagers(ctx, teamID)
	if err != nil {
		return nil, gerrors.Wrapf(err, "list managers of team %d", teamID)
	}

	snap := newTeamSnapshot(teamID)
	queue := make([]walkItem, 0, len(managers))
	for _, row := range managers {
		row.Role = position.CodeManager
		queue = append(queue, walkItem{row: row})
	}

	seen := map[rowKey]struct{}{}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]

		key := rowKey{role: it.row.Role, id: it.row.ID}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		usable := false
		switch {
		case !it.row.Active:
			r.log(ctx, LevelDebug, teamID, it.row.UserID, "skipping inactive %s row %d", it.row.Role, it.row.ID)
		case it.row.UserID == uuid.Nil:
			r.rowFailed(ctx, teamID, uuid.Nil, "%s row %d references no user", it.row.Role, it.row.ID)
		default:
			usable = true
			snap.record(it.row)
			if it.parentUser != uuid.Nil {
				snap.link(it.parentUser, it.row.UserID)
			}
		}

		childRole, ok := ChildRole(it.row.Role)
		if !ok {
			continue
		}
		children, err := r.m.source.ListChildren(ctx, it.row.Role, it.row.ID)
		if err != nil {
			r.rowFailed(ctx, teamID, it.row.UserID, "list %s rows below %s row %d: %v", childRole, it.row.Role, it.row.ID, err)
			continue
		}
		parentUser := uuid.Nil
		if usable {
			parentUser = it.row.UserID
		}
		for _, c := range children {
			c.Role = childRole
			queue = append(queue, walkItem{row: c, parentUser: parentUser})
		}
	}

	sort.SliceStable(snap.users, func(i, j int) bool {
		return snap.users[i].String() < snap.users[j].String()
	})
	return snap, nil
}

// AnalyzeUserRolesInTeam returns every role the user holds in the legacy
// team, most senior first.
func (m *Migrator) AnalyzeUserRolesInTeam(ctx context.Context, teamID int64, userID uuid.UUID) ([]position.Code, error) {
	r := &run{m: m, result: &Result{}}
	snap, err := r.walkTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return snap.rolesOf(userID), nil
}
