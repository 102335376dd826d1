package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/commission"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/membership"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/relation"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/unit"
	"github.com/iota-uz/salesorg/pkg/composables"
)

// ErrSourceUnavailable wraps a failure to list the legacy teams. Nothing is
// migrated when it is returned.
var ErrSourceUnavailable = gerrors.New("legacy source unavailable")

var errDryRunRollback = errors.New("dry run rollback")

type Options struct {
	DryRun bool
	// Verbose keeps DEBUG events in the result.
	Verbose bool
}

type Migrator struct {
	source LegacySource
	store  Store
	now    func() time.Time
}

type MigratorOption func(*Migrator)

func WithClock(now func() time.Time) MigratorOption {
	return func(m *Migrator) { m.now = now }
}

func NewMigrator(source LegacySource, store Store, opts ...MigratorOption) *Migrator {
	m := &Migrator{
		source: source,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// run carries the state of one MigrateLegacyHierarchy call.
type run struct {
	m      *Migrator
	opts   Options
	result *Result
}

// MigrateLegacyHierarchy collapses the legacy role tables into units,
// memberships, relations and commission structures. Each team is migrated in
// its own transaction; a failing team is logged and rolled back while the
// others continue. With DryRun the whole run happens inside a transaction
// that is always rolled back.
func (m *Migrator) MigrateLegacyHierarchy(ctx context.Context, opts Options) (*Result, error) {
	r := &run{m: m, opts: opts, result: &Result{DryRun: opts.DryRun}}
	start := m.now()
	r.log(ctx, LevelInfo, 0, uuid.Nil, "starting legacy hierarchy migration (dry_run=%t)", opts.DryRun)

	var err error
	if opts.DryRun {
		err = m.store.InTx(ctx, func(txCtx context.Context) error {
			if err := r.migrate(txCtx); err != nil {
				return err
			}
			return errDryRunRollback
		})
		if errors.Is(err, errDryRunRollback) {
			err = nil
			r.log(ctx, LevelInfo, 0, uuid.Nil, "dry run: all changes rolled back")
		}
	} else {
		err = r.migrate(ctx)
	}

	recordRun(opts.DryRun, err)
	if err != nil {
		r.log(ctx, LevelError, 0, uuid.Nil, "migration aborted: %v", err)
		return r.result, err
	}

	s := r.result.Summary
	r.log(ctx, LevelInfo, 0, uuid.Nil,
		"migration finished in %s: units=%d positions=%d memberships=%d relations=%d direct=%d commissions=%d warnings=%d errors=%d",
		m.now().Sub(start).Round(time.Millisecond), s.UnitsCreated, s.PositionsCreated, s.MembershipsCreated,
		s.RelationsCreated, s.DirectSupervisions, s.CommissionsMigrated, s.Warnings, s.Errors)
	return r.result, nil
}

func (r *run) migrate(ctx context.Context) error {
	teams, err := r.m.source.ListTeams(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	created, err := r.ensurePositions(ctx)
	if err != nil {
		return gerrors.Wrap(err, "ensure position types")
	}
	r.result.Summary.PositionsCreated += created
	sort.SliceStable(teams, func(i, j int) bool { return teams[i].Name < teams[j].Name })

	for _, team := range teams {
		if !team.Active {
			r.log(ctx, LevelDebug, team.ID, uuid.Nil, "skipping inactive team %q", team.Name)
			continue
		}
		var local Summary
		err := r.m.store.InTx(ctx, func(txCtx context.Context) error {
			local = Summary{}
			return r.migrateTeam(txCtx, team, &local)
		})
		if err != nil {
			recordRow(outcomeUnitFailed)
			r.log(ctx, LevelError, team.ID, uuid.Nil, "team %q rolled back: %v", team.Name, err)
			continue
		}
		r.result.Summary.add(local)
	}
	return nil
}

func (r *run) ensurePositions(ctx context.Context) (int, error) {
	created := 0
	for _, p := range position.DefaultSalesPositions() {
		_, err := r.m.store.GetPositionType(ctx, p.Code)
		if err == nil {
			continue
		}
		if !errors.Is(err, position.ErrNotFound) {
			return created, err
		}
		if _, err := r.m.store.CreatePositionType(ctx, p); err != nil {
			return created, err
		}
		created++
		r.log(ctx, LevelInfo, 0, uuid.Nil, "created position type %s", p.Code)
	}
	return created, nil
}

func (r *run) migrateTeam(ctx context.Context, team Team, sum *Summary) error {
	u, created, err := r.getOrCreateUnit(ctx, team)
	if err != nil {
		return err
	}
	if created {
		sum.UnitsCreated++
		r.log(ctx, LevelInfo, team.ID, uuid.Nil, "created unit %s", u.Code)
	} else {
		r.log(ctx, LevelDebug, team.ID, uuid.Nil, "unit %s already exists", u.Code)
	}

	types, err := r.m.store.ListPositionTypes(ctx)
	if err != nil {
		return err
	}
	h := position.NewHierarchy(types, u.Type)

	snap, err := r.walkTeam(ctx, team.ID)
	if err != nil {
		return err
	}

	members := make(map[uuid.UUID]membership.Membership, len(snap.users))
	for _, userID := range snap.users {
		m, ok := r.migrateUser(ctx, u, h, snap, userID, sum)
		if ok {
			members[userID] = m
		}
	}

	r.replayNormalChain(ctx, team.ID, h, snap, members, sum)

	if err := r.migrateDirectSupervisions(ctx, team.ID, h, members, sum); err != nil {
		return err
	}
	return r.migrateCommission(ctx, team, u, h, sum)
}

func (r *run) getOrCreateUnit(ctx context.Context, team Team) (unit.Unit, bool, error) {
	code := unit.LegacyCode(team.Name)
	existing, err := r.m.store.GetUnitByCode(ctx, code)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, unit.ErrNotFound) {
		return unit.Unit{}, false, err
	}
	u := unit.New(code, team.Name, unit.TypeSales, nil, team.Description)
	u.CreatedAt = r.m.now()
	u, err = r.m.store.CreateUnit(ctx, u)
	if err != nil {
		return unit.Unit{}, false, gerrors.Wrapf(err, "create unit %s", code)
	}
	return u, true, nil
}

// activeMembership finds the user's ACTIVE membership in the unit.
func (r *run) activeMembership(ctx context.Context, userID, unitID uuid.UUID) (membership.Membership, bool, error) {
	all, err := r.m.store.ListMembershipsByUser(ctx, userID)
	if err != nil {
		return membership.Membership{}, false, err
	}
	for _, m := range all {
		if m.UnitID() == unitID && m.Status() == membership.StatusActive {
			return m, true, nil
		}
	}
	return membership.Membership{}, false, nil
}

func rolesNote(roles []position.Code) string {
	return "Migrated from legacy system. Roles detected: " + joinCodes(roles)
}

func (r *run) migrateUser(
	ctx context.Context,
	u unit.Unit,
	h position.Hierarchy,
	snap *teamSnapshot,
	userID uuid.UUID,
	sum *Summary,
) (membership.Membership, bool) {
	roles := snap.rolesOf(userID)
	highest, ok := highestRole(roles, h)
	if !ok {
		r.rowFailed(ctx, snap.teamID, userID, "no known position among roles %v", roles)
		return membership.Membership{}, false
	}

	existing, found, err := r.activeMembership(ctx, userID, u.ID)
	if err != nil {
		r.rowFailed(ctx, snap.teamID, userID, "look up membership: %v", err)
		return membership.Membership{}, false
	}
	if found {
		if existing.PositionCode() != highest {
			r.log(ctx, LevelWarn, snap.teamID, userID, "membership already exists as %s, legacy rows say %s", existing.PositionCode(), highest)
		} else {
			r.log(ctx, LevelDebug, snap.teamID, userID, "membership already exists")
		}
		recordRow(outcomeExisting)
		return existing, true
	}

	m := membership.New(userID, snap.names[userID], u.ID, highest, r.m.now(), membership.AssignmentPermanent, rolesNote(roles))
	m, err = r.m.store.CreateMembership(ctx, m)
	if err != nil {
		r.rowFailed(ctx, snap.teamID, userID, "create membership: %v", err)
		return membership.Membership{}, false
	}
	sum.MembershipsCreated++
	recordRow(outcomeCreated)
	r.log(ctx, LevelInfo, snap.teamID, userID, "created membership %s as %s (roles: %s)", m.ID(), highest, joinCodes(roles))
	return m, true
}

func joinCodes(codes []position.Code) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}

// relationBetween returns a relation from supervisor to subordinate, whatever
// its type. Ended relations only match with includeEnded: a legacy row that
// already carries an end date is migrated as an ended relation and must still
// be found on the next run.
func (r *run) relationBetween(ctx context.Context, supervisorID, subordinateID uuid.UUID, includeEnded bool) (relation.Relation, bool, error) {
	rels, err := r.m.store.ListRelationsByMembership(ctx, subordinateID)
	if err != nil {
		return relation.Relation{}, false, err
	}
	for _, rel := range rels {
		if rel.SupervisorID != supervisorID || rel.SubordinateID != subordinateID {
			continue
		}
		if includeEnded || rel.EndDate == nil {
			return rel, true, nil
		}
	}
	return relation.Relation{}, false, nil
}

// replayNormalChain recreates NORMAL lines between the deduplicated
// memberships, but only for pairs the legacy rows actually linked.
func (r *run) replayNormalChain(
	ctx context.Context,
	teamID int64,
	h position.Hierarchy,
	snap *teamSnapshot,
	members map[uuid.UUID]membership.Membership,
	sum *Summary,
) {
	for _, e := range snap.edges {
		if !snap.shouldCreate(e.supervisor, e.subordinate) {
			continue
		}
		sup, okSup := members[e.supervisor]
		sub, okSub := members[e.subordinate]
		if !okSup || !okSub {
			r.rowFailed(ctx, teamID, e.subordinate, "no membership for legacy line %s -> %s", e.supervisor, e.subordinate)
			continue
		}
		supLevel, _ := h.Level(sup.PositionCode())
		subLevel, _ := h.Level(sub.PositionCode())
		if supLevel >= subLevel {
			r.log(ctx, LevelWarn, teamID, e.subordinate,
				"legacy line %s -> %s collapsed after deduplication (%s over %s), not replayed",
				e.supervisor, e.subordinate, sup.PositionCode(), sub.PositionCode())
			continue
		}

		_, exists, err := r.relationBetween(ctx, sup.ID(), sub.ID(), false)
		if err != nil {
			r.rowFailed(ctx, teamID, e.subordinate, "look up relation: %v", err)
			continue
		}
		if exists {
			r.log(ctx, LevelDebug, teamID, e.subordinate, "relation %s -> %s already exists", sup.PositionCode(), sub.PositionCode())
			continue
		}

		rel := relation.New(sup.ID(), sub.ID(), relation.TypeNormal, relation.AuthorityFull, true, r.m.now(), "Migrated normal hierarchy relation")
		if _, err := r.m.store.CreateRelation(ctx, rel); err != nil {
			r.rowFailed(ctx, teamID, e.subordinate, "create relation: %v", err)
			continue
		}
		sum.RelationsCreated++
		r.log(ctx, LevelInfo, teamID, e.subordinate, "relation: %s (%s) -> %s (%s)",
			sup.UserDisplayName(), sup.PositionCode(), sub.UserDisplayName(), sub.PositionCode())
	}
}

// migrateDirectSupervisions promotes legacy override rows to non-primary
// DIRECT lines so the normal chain stays the primary path.
func (r *run) migrateDirectSupervisions(
	ctx context.Context,
	teamID int64,
	h position.Hierarchy,
	members map[uuid.UUID]membership.Membership,
	sum *Summary,
) error {
	rows, err := r.m.source.ListDirectSupervisions(ctx, teamID)
	if err != nil {
		return gerrors.Wrapf(err, "list direct supervisions of team %d", teamID)
	}
	for _, row := range rows {
		if !row.Active {
			continue
		}
		sup, okSup := members[row.SupervisorUserID]
		sub, okSub := members[row.SubordinateUserID]
		if !okSup || !okSub {
			r.rowFailed(ctx, teamID, row.SubordinateUserID, "direct supervision %d: supervisor or subordinate has no membership in the unit", row.ID)
			continue
		}
		supLevel, _ := h.Level(sup.PositionCode())
		subLevel, _ := h.Level(sub.PositionCode())
		if supLevel >= subLevel {
			r.rowFailed(ctx, teamID, row.SubordinateUserID, "direct supervision %d: %s cannot supervise %s",
				row.ID, sup.PositionCode(), sub.PositionCode())
			continue
		}

		_, exists, err := r.relationBetween(ctx, sup.ID(), sub.ID(), row.EndDate != nil)
		if err != nil {
			r.rowFailed(ctx, teamID, row.SubordinateUserID, "look up relation: %v", err)
			continue
		}
		if exists {
			r.log(ctx, LevelDebug, teamID, row.SubordinateUserID, "direct supervision %d already migrated", row.ID)
			continue
		}

		start := row.StartDate
		if start.IsZero() {
			start = r.m.now()
		}
		justification := strings.TrimSpace("Direct supervision migrated: " + row.Notes)
		rel := relation.New(sup.ID(), sub.ID(), relation.TypeDirect, relation.AuthorityFull, false, start, justification)
		if row.EndDate != nil {
			rel = rel.EndAt(*row.EndDate)
		}
		if _, err := r.m.store.CreateRelation(ctx, rel); err != nil {
			r.rowFailed(ctx, teamID, row.SubordinateUserID, "create direct supervision %d: %v", row.ID, err)
			continue
		}
		sum.DirectSupervisions++
		r.log(ctx, LevelInfo, teamID, row.SubordinateUserID, "direct supervision: %s -> %s",
			sup.UserDisplayName(), sub.UserDisplayName())
	}
	return nil
}

func commissionName(team Team) string {
	return "Commissions " + team.Name
}

func (r *run) migrateCommission(ctx context.Context, team Team, u unit.Unit, h position.Hierarchy, sum *Summary) error {
	table, err := r.m.source.GetCommissionTable(ctx, team.ID)
	if errors.Is(err, ErrNoCommissionTable) {
		r.log(ctx, LevelWarn, team.ID, uuid.Nil, "team %q has no commission table", team.Name)
		return nil
	}
	if err != nil {
		return gerrors.Wrapf(err, "get commission table of team %d", team.ID)
	}
	if !table.Active {
		r.log(ctx, LevelDebug, team.ID, uuid.Nil, "commission table of team %q is inactive", team.Name)
		return nil
	}

	name := commissionName(team)
	existing, err := r.m.store.ListStructuresByUnit(ctx, u.ID)
	if err != nil {
		return err
	}
	for _, s := range existing {
		if s.Name() == name && s.CommissionType() == commission.TypeSales {
			r.log(ctx, LevelDebug, team.ID, uuid.Nil, "commission structure %q already exists", name)
			return nil
		}
	}

	raw := make(map[string]string, len(table.Percentages))
	for code, v := range table.Percentages {
		raw[string(code)] = v
	}
	percentages, err := commission.ParseTable(raw)
	if err != nil {
		r.rowFailed(ctx, team.ID, uuid.Nil, "commission table: %v", err)
		return nil
	}
	from := table.CreatedAt
	if from.IsZero() {
		from = r.m.now()
	}
	s, err := commission.New(u.ID, name, commission.TypeSales, percentages, from)
	if err != nil {
		r.rowFailed(ctx, team.ID, uuid.Nil, "commission table: %v", err)
		return nil
	}
	if s.OverAllocated(h) {
		r.log(ctx, LevelWarn, team.ID, uuid.Nil, "commission table of team %q allocates %s%%, migrated as is",
			team.Name, s.MaxCoverageBand(h).String())
	}
	if _, err := r.m.store.CreateStructure(ctx, s); err != nil {
		r.rowFailed(ctx, team.ID, uuid.Nil, "create commission structure: %v", err)
		return nil
	}
	sum.CommissionsMigrated++
	r.log(ctx, LevelInfo, team.ID, uuid.Nil, "migrated commission table as %q", name)
	return nil
}

func (r *run) rowFailed(ctx context.Context, teamID int64, userID uuid.UUID, format string, args ...any) {
	recordRow(outcomeFailed)
	r.log(ctx, LevelError, teamID, userID, format, args...)
}

func (r *run) log(ctx context.Context, level Level, teamID int64, userID uuid.UUID, format string, args ...any) {
	e := Event{
		At:      r.m.now(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
		TeamID:  teamID,
		UserID:  userID,
	}
	switch level {
	case LevelWarn:
		r.result.Summary.Warnings++
	case LevelError:
		r.result.Summary.Errors++
	}
	if level != LevelDebug || r.opts.Verbose {
		r.result.Events = append(r.result.Events, e)
	}

	logger := composables.UseLogger(ctx)
	if logger == nil {
		return
	}
	fields := logrus.Fields{"dry_run": r.opts.DryRun}
	if teamID != 0 {
		fields["team_id"] = teamID
	}
	if userID != uuid.Nil {
		fields["user_id"] = userID.String()
	}
	logger.WithFields(fields).Log(logrusLevel(level), e.Message)
}

func logrusLevel(l Level) logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
