package persistence

import (
	"context"
	"embed"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/commission"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/membership"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/relation"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/unit"
	"github.com/iota-uz/salesorg/pkg/composables"
)

//go:embed schema/*.sql
var MigrationFiles embed.FS

const MigrationDir = "schema"

// PgStore reads and writes through the transaction (or pool) carried by ctx.
type PgStore struct{}

func NewPgStore() *PgStore {
	return &PgStore{}
}

func (r *PgStore) InTx(ctx context.Context, fn func(context.Context) error) error {
	return composables.InTx(ctx, fn)
}

func (r *PgStore) ListPositionTypes(ctx context.Context) ([]position.PositionType, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT code, name, hierarchy_level, can_supervise, can_have_direct_reports, applicable_unit_types, description
FROM org_position_types
ORDER BY hierarchy_level, code
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []position.PositionType
	for rows.Next() {
		p, err := scanPositionType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPositionType(row pgx.Row) (position.PositionType, error) {
	var (
		p     position.PositionType
		code  string
		types []string
	)
	if err := row.Scan(&code, &p.Name, &p.HierarchyLevel, &p.CanSupervise, &p.CanHaveDirectReports, &types, &p.Description); err != nil {
		return position.PositionType{}, err
	}
	p.Code = position.Code(code)
	for _, t := range types {
		p.ApplicableUnitTypes = append(p.ApplicableUnitTypes, unit.Type(t))
	}
	return p, nil
}

func (r *PgStore) GetPositionType(ctx context.Context, code position.Code) (position.PositionType, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return position.PositionType{}, err
	}
	p, err := scanPositionType(tx.QueryRow(ctx, `
SELECT code, name, hierarchy_level, can_supervise, can_have_direct_reports, applicable_unit_types, description
FROM org_position_types
WHERE code = $1
`, string(code)))
	if isNoRows(err) {
		return position.PositionType{}, gerrors.Wrapf(position.ErrNotFound, "code %s", code)
	}
	return p, err
}

func (r *PgStore) CreatePositionType(ctx context.Context, p position.PositionType) (position.PositionType, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return position.PositionType{}, err
	}
	types := make([]string, 0, len(p.ApplicableUnitTypes))
	for _, t := range p.ApplicableUnitTypes {
		types = append(types, string(t))
	}
	_, err = tx.Exec(ctx, `
INSERT INTO org_position_types (code, name, hierarchy_level, can_supervise, can_have_direct_reports, applicable_unit_types, description)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, string(p.Code), p.Name, p.HierarchyLevel, p.CanSupervise, p.CanHaveDirectReports, types, p.Description)
	return p, err
}

const unitColumns = `id, code, name, unit_type, parent_id, description, is_active, created_at`

func scanUnit(row pgx.Row) (unit.Unit, error) {
	var (
		u        unit.Unit
		typ      string
		parentID pgtype.UUID
	)
	if err := row.Scan(&u.ID, &u.Code, &u.Name, &typ, &parentID, &u.Description, &u.Active, &u.CreatedAt); err != nil {
		return unit.Unit{}, err
	}
	u.Type = unit.Type(typ)
	u.ParentID = fromPgNullableUUID(parentID)
	return u, nil
}

func (r *PgStore) GetUnit(ctx context.Context, id uuid.UUID) (unit.Unit, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return unit.Unit{}, err
	}
	u, err := scanUnit(tx.QueryRow(ctx, `SELECT `+unitColumns+` FROM org_units WHERE id = $1`, pgUUID(id)))
	if isNoRows(err) {
		return unit.Unit{}, gerrors.Wrapf(unit.ErrNotFound, "id %s", id)
	}
	return u, err
}

func (r *PgStore) GetUnitByCode(ctx context.Context, code string) (unit.Unit, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return unit.Unit{}, err
	}
	u, err := scanUnit(tx.QueryRow(ctx, `SELECT `+unitColumns+` FROM org_units WHERE code = $1`, code))
	if isNoRows(err) {
		return unit.Unit{}, gerrors.Wrapf(unit.ErrNotFound, "code %s", code)
	}
	return u, err
}

func (r *PgStore) ListUnits(ctx context.Context) ([]unit.Unit, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT `+unitColumns+` FROM org_units ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []unit.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *PgStore) CreateUnit(ctx context.Context, u unit.Unit) (unit.Unit, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return unit.Unit{}, err
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err = tx.Exec(ctx, `
INSERT INTO org_units (id, code, name, unit_type, parent_id, description, is_active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, pgUUID(u.ID), u.Code, u.Name, string(u.Type), pgNullableUUID(u.ParentID), u.Description, u.Active, u.CreatedAt)
	return u, err
}

const membershipColumns = `id, user_id, user_display_name, unit_id, position_code, start_date, end_date, status, assignment_type, notes, created_at`

func scanMembership(row pgx.Row) (membership.Membership, error) {
	var (
		f                            membership.Fields
		code, status, assignmentType string
		endDate                      pgtype.Timestamptz
	)
	if err := row.Scan(&f.ID, &f.UserID, &f.UserDisplayName, &f.UnitID, &code, &f.StartDate, &endDate, &status, &assignmentType, &f.Notes, &f.CreatedAt); err != nil {
		return membership.Membership{}, err
	}
	f.PositionCode = position.Code(code)
	f.Status = membership.Status(status)
	f.AssignmentType = membership.AssignmentType(assignmentType)
	f.StartDate = f.StartDate.UTC()
	f.EndDate = fromPgNullableTime(endDate)
	return membership.Hydrate(f), nil
}

func (r *PgStore) GetMembership(ctx context.Context, id uuid.UUID) (membership.Membership, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return membership.Membership{}, err
	}
	m, err := scanMembership(tx.QueryRow(ctx, `SELECT `+membershipColumns+` FROM org_team_memberships WHERE id = $1`, pgUUID(id)))
	if isNoRows(err) {
		return membership.Membership{}, gerrors.Wrapf(membership.ErrNotFound, "id %s", id)
	}
	return m, err
}

func (r *PgStore) ListMembershipsByUnit(ctx context.Context, unitID uuid.UUID) ([]membership.Membership, error) {
	return r.listMemberships(ctx, `SELECT `+membershipColumns+` FROM org_team_memberships WHERE unit_id = $1 ORDER BY id`, unitID)
}

func (r *PgStore) ListMembershipsByUser(ctx context.Context, userID uuid.UUID) ([]membership.Membership, error) {
	return r.listMemberships(ctx, `SELECT `+membershipColumns+` FROM org_team_memberships WHERE user_id = $1 ORDER BY id`, userID)
}

func (r *PgStore) listMemberships(ctx context.Context, query string, id uuid.UUID) ([]membership.Membership, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, query, pgUUID(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []membership.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PgStore) CreateMembership(ctx context.Context, m membership.Membership) (membership.Membership, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return membership.Membership{}, err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO org_team_memberships (id, user_id, user_display_name, unit_id, position_code, start_date, end_date, status, assignment_type, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`,
		pgUUID(m.ID()), pgUUID(m.UserID()), m.UserDisplayName(), pgUUID(m.UnitID()), string(m.PositionCode()),
		m.StartDate(), pgNullableTime(m.EndDate()), string(m.Status()), string(m.AssignmentType()), m.Notes(), m.CreatedAt(),
	)
	return m, err
}

func (r *PgStore) UpdateMembership(ctx context.Context, m membership.Membership) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
UPDATE org_team_memberships
SET position_code = $2, end_date = $3, status = $4, assignment_type = $5, notes = $6
WHERE id = $1
`, pgUUID(m.ID()), string(m.PositionCode()), pgNullableTime(m.EndDate()), string(m.Status()), string(m.AssignmentType()), m.Notes())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return gerrors.Wrapf(membership.ErrNotFound, "id %s", m.ID())
	}
	return nil
}

const relationColumns = `r.id, r.supervisor_membership_id, r.subordinate_membership_id, r.relation_type, r.authority_level, r.is_primary, r.start_date, r.end_date, r.justification, r.created_at`

func scanRelation(row pgx.Row) (relation.Relation, error) {
	var (
		rel            relation.Relation
		typ, authority string
		endDate        pgtype.Timestamptz
	)
	if err := row.Scan(&rel.ID, &rel.SupervisorID, &rel.SubordinateID, &typ, &authority, &rel.IsPrimary, &rel.StartDate, &endDate, &rel.Justification, &rel.CreatedAt); err != nil {
		return relation.Relation{}, err
	}
	rel.Type = relation.Type(typ)
	rel.Authority = relation.Authority(authority)
	rel.StartDate = rel.StartDate.UTC()
	rel.EndDate = fromPgNullableTime(endDate)
	return rel, nil
}

func (r *PgStore) GetRelation(ctx context.Context, id uuid.UUID) (relation.Relation, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return relation.Relation{}, err
	}
	rel, err := scanRelation(tx.QueryRow(ctx, `SELECT `+relationColumns+` FROM org_hierarchy_relations r WHERE r.id = $1`, pgUUID(id)))
	if isNoRows(err) {
		return relation.Relation{}, gerrors.Wrapf(relation.ErrNotFound, "id %s", id)
	}
	return rel, err
}

func (r *PgStore) ListRelationsByUnit(ctx context.Context, unitID uuid.UUID) ([]relation.Relation, error) {
	return r.listRelations(ctx, `
SELECT `+relationColumns+`
FROM org_hierarchy_relations r
JOIN org_team_memberships sup ON sup.id = r.supervisor_membership_id
JOIN org_team_memberships sub ON sub.id = r.subordinate_membership_id
WHERE sup.unit_id = $1 OR sub.unit_id = $1
ORDER BY r.id
`, unitID)
}

func (r *PgStore) ListRelationsByMembership(ctx context.Context, membershipID uuid.UUID) ([]relation.Relation, error) {
	return r.listRelations(ctx, `
SELECT `+relationColumns+`
FROM org_hierarchy_relations r
WHERE r.supervisor_membership_id = $1 OR r.subordinate_membership_id = $1
ORDER BY r.id
`, membershipID)
}

func (r *PgStore) listRelations(ctx context.Context, query string, id uuid.UUID) ([]relation.Relation, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, query, pgUUID(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []relation.Relation
	for rows.Next() {
		rel, err := scanRelation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func (r *PgStore) CreateRelation(ctx context.Context, rel relation.Relation) (relation.Relation, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return relation.Relation{}, err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO org_hierarchy_relations (
	id, supervisor_membership_id, subordinate_membership_id, relation_type, authority_level,
	is_primary, start_date, end_date, justification, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`,
		pgUUID(rel.ID), pgUUID(rel.SupervisorID), pgUUID(rel.SubordinateID), string(rel.Type), string(rel.Authority),
		rel.IsPrimary, rel.StartDate, pgNullableTime(rel.EndDate), rel.Justification, rel.CreatedAt,
	)
	return rel, err
}

func (r *PgStore) UpdateRelation(ctx context.Context, rel relation.Relation) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
UPDATE org_hierarchy_relations
SET supervisor_membership_id = $2, subordinate_membership_id = $3, relation_type = $4, authority_level = $5,
	is_primary = $6, end_date = $7, justification = $8
WHERE id = $1
`, pgUUID(rel.ID), pgUUID(rel.SupervisorID), pgUUID(rel.SubordinateID), string(rel.Type), string(rel.Authority),
		rel.IsPrimary, pgNullableTime(rel.EndDate), rel.Justification)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return gerrors.Wrapf(relation.ErrNotFound, "id %s", rel.ID)
	}
	return nil
}

func (r *PgStore) ListStructuresByUnit(ctx context.Context, unitID uuid.UUID) ([]commission.Structure, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	tables := map[uuid.UUID]map[position.Code]commission.Percentage{}
	pctRows, err := tx.Query(ctx, `
SELECT p.structure_id, p.position_code, p.percentage::text
FROM org_commission_percentages p
JOIN org_commission_structures s ON s.id = p.structure_id
WHERE s.unit_id = $1
`, pgUUID(unitID))
	if err != nil {
		return nil, err
	}
	for pctRows.Next() {
		var (
			structureID uuid.UUID
			code, raw   string
		)
		if err := pctRows.Scan(&structureID, &code, &raw); err != nil {
			pctRows.Close()
			return nil, err
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			pctRows.Close()
			return nil, gerrors.Wrapf(err, "parse percentage %q", raw)
		}
		p, err := commission.NewPercentage(d)
		if err != nil {
			pctRows.Close()
			return nil, err
		}
		if tables[structureID] == nil {
			tables[structureID] = map[position.Code]commission.Percentage{}
		}
		tables[structureID][position.Code(code)] = p
	}
	pctRows.Close()
	if err := pctRows.Err(); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT id, unit_id, name, commission_type, effective_from, effective_to, is_active, created_at
FROM org_commission_structures
WHERE unit_id = $1
ORDER BY effective_from, id
`, pgUUID(unitID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.Structure
	for rows.Next() {
		var (
			f           commission.Fields
			typ         string
			effectiveTo pgtype.Timestamptz
		)
		if err := rows.Scan(&f.ID, &f.UnitID, &f.Name, &typ, &f.EffectiveFrom, &effectiveTo, &f.Active, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.CommissionType = commission.Type(typ)
		f.EffectiveFrom = f.EffectiveFrom.UTC()
		f.EffectiveTo = fromPgNullableTime(effectiveTo)
		f.Percentages = tables[f.ID]
		out = append(out, commission.Hydrate(f))
	}
	return out, rows.Err()
}

func (r *PgStore) CreateStructure(ctx context.Context, s commission.Structure) (commission.Structure, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return commission.Structure{}, err
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO org_commission_structures (id, unit_id, name, commission_type, effective_from, effective_to, is_active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, pgUUID(s.ID()), pgUUID(s.UnitID()), s.Name(), string(s.CommissionType()), s.EffectiveFrom(), pgNullableTime(s.EffectiveTo()), s.Active(), s.CreatedAt()); err != nil {
		return commission.Structure{}, err
	}
	for code, p := range s.Percentages() {
		if _, err := tx.Exec(ctx, `
INSERT INTO org_commission_percentages (structure_id, position_code, percentage)
VALUES ($1, $2, $3::numeric)
`, pgUUID(s.ID()), string(code), p.Decimal().String()); err != nil {
			return commission.Structure{}, err
		}
	}
	return s, nil
}

// UpdateStructure only touches the validity window; percentage tables are
// immutable once written.
func (r *PgStore) UpdateStructure(ctx context.Context, s commission.Structure) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
UPDATE org_commission_structures
SET effective_to = $2, is_active = $3
WHERE id = $1
`, pgUUID(s.ID()), pgNullableTime(s.EffectiveTo()), s.Active())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return gerrors.Wrapf(commission.ErrNotFound, "id %s", s.ID())
	}
	return nil
}
