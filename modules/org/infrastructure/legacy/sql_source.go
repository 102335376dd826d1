package legacy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gerrors "github.com/go-faster/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
	"github.com/iota-uz/salesorg/modules/org/migration"
)

const tablePrefix = "sales_team_management_"

// roleTable names the legacy table of each role below manager and the column
// pointing at its parent row.
var roleTable = map[position.Code]struct {
	table  string
	parent string
}{
	position.CodeSupervisor: {table: tablePrefix + "jefeventa", parent: "gerente_equipo_id"},
	position.CodeTeamLead:   {table: tablePrefix + "teamleader", parent: "jefe_venta_id"},
	position.CodeAgent:      {table: tablePrefix + "vendedor", parent: "team_leader_id"},
}

type teamRecord struct {
	ID          int64          `db:"id"`
	Name        string         `db:"nombre"`
	Description sql.NullString `db:"descripcion"`
	Active      bool           `db:"activo"`
	CreatedAt   time.Time      `db:"created_at"`
}

type roleRecord struct {
	ID        int64          `db:"id"`
	Active    bool           `db:"activo"`
	UserKey   sql.NullInt64  `db:"user_key"`
	Username  sql.NullString `db:"username"`
	FirstName sql.NullString `db:"first_name"`
	LastName  sql.NullString `db:"last_name"`
}

type supervisionRecord struct {
	ID             int64          `db:"id"`
	TeamID         int64          `db:"equipo_venta_id"`
	SupervisorKey  int64          `db:"supervisor_id"`
	SubordinateKey int64          `db:"subordinado_id"`
	Kind           sql.NullString `db:"tipo_supervision"`
	Start          sql.NullTime   `db:"fecha_inicio"`
	End            sql.NullTime   `db:"fecha_fin"`
	Notes          sql.NullString `db:"notas"`
	Active         bool           `db:"activo"`
}

type commissionRecord struct {
	TeamID     int64     `db:"equipo_venta_id"`
	Manager    string    `db:"porcentaje_gerente_equipo"`
	Supervisor string    `db:"porcentaje_jefe_venta"`
	TeamLead   string    `db:"porcentaje_team_leader"`
	Agent      string    `db:"porcentaje_vendedor"`
	Active     bool      `db:"activo"`
	CreatedAt  time.Time `db:"created_at"`
}

// SQLSource reads the legacy Django tables. Users are joined from auth_user
// so a role row whose account is gone comes back with a nil user id.
type SQLSource struct {
	db *sqlx.DB
}

func NewSQLSource(db *sqlx.DB) *SQLSource {
	return &SQLSource{db: db}
}

// OpenSQLSource connects to the legacy database through the pgx stdlib driver.
func OpenSQLSource(ctx context.Context, dsn string) (*SQLSource, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, gerrors.Wrap(err, "connect to legacy database")
	}
	return NewSQLSource(db), nil
}

func (s *SQLSource) Close() error {
	return s.db.Close()
}

func (s *SQLSource) ListTeams(ctx context.Context) ([]migration.Team, error) {
	var records []teamRecord
	err := s.db.SelectContext(ctx, &records,
		`SELECT id, nombre, descripcion, activo, created_at FROM `+tablePrefix+`equipoventa ORDER BY nombre`)
	if err != nil {
		return nil, gerrors.Wrap(err, "select legacy teams")
	}
	out := make([]migration.Team, 0, len(records))
	for _, r := range records {
		out = append(out, migration.Team{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description.String,
			Active:      r.Active,
			CreatedAt:   r.CreatedAt,
		})
	}
	return out, nil
}

func roleQuery(table, parentColumn string) string {
	return fmt.Sprintf(`SELECT r.id, r.activo, u.id AS user_key, u.username, u.first_name, u.last_name
FROM %s r
LEFT JOIN auth_user u ON u.id = r.usuario_id
WHERE r.%s = $1
ORDER BY r.id`, table, parentColumn)
}

func (s *SQLSource) ListManagers(ctx context.Context, teamID int64) ([]migration.RoleRow, error) {
	return s.selectRoles(ctx, position.CodeManager, roleQuery(tablePrefix+"gerenteequipo", "equipo_venta_id"), teamID)
}

func (s *SQLSource) ListChildren(ctx context.Context, parentRole position.Code, parentRowID int64) ([]migration.RoleRow, error) {
	child, ok := migration.ChildRole(parentRole)
	if !ok {
		return nil, nil
	}
	t := roleTable[child]
	return s.selectRoles(ctx, child, roleQuery(t.table, t.parent), parentRowID)
}

func (s *SQLSource) selectRoles(ctx context.Context, role position.Code, query string, parent int64) ([]migration.RoleRow, error) {
	var records []roleRecord
	if err := s.db.SelectContext(ctx, &records, query, parent); err != nil {
		return nil, gerrors.Wrapf(err, "select legacy %s rows of %d", role, parent)
	}
	out := make([]migration.RoleRow, 0, len(records))
	for _, r := range records {
		row := migration.RoleRow{
			ID:       r.ID,
			Role:     role,
			ParentID: parent,
			Active:   r.Active,
		}
		if r.UserKey.Valid {
			row.UserID = userID(r.UserKey.Int64)
			row.UserDisplayName = displayName(r.Username.String, r.FirstName.String, r.LastName.String)
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *SQLSource) ListDirectSupervisions(ctx context.Context, teamID int64) ([]migration.DirectSupervision, error) {
	var records []supervisionRecord
	err := s.db.SelectContext(ctx, &records, `SELECT id, equipo_venta_id, supervisor_id, subordinado_id,
       tipo_supervision, fecha_inicio, fecha_fin, notas, activo
FROM `+tablePrefix+`supervisiondirecta
WHERE equipo_venta_id = $1
ORDER BY id`, teamID)
	if err != nil {
		return nil, gerrors.Wrapf(err, "select direct supervisions of team %d", teamID)
	}
	out := make([]migration.DirectSupervision, 0, len(records))
	for _, r := range records {
		d := migration.DirectSupervision{
			ID:                r.ID,
			TeamID:            r.TeamID,
			SupervisorUserID:  userID(r.SupervisorKey),
			SubordinateUserID: userID(r.SubordinateKey),
			Kind:              r.Kind.String,
			Notes:             r.Notes.String,
			Active:            r.Active,
		}
		if r.Start.Valid {
			d.StartDate = r.Start.Time
		}
		if r.End.Valid {
			end := r.End.Time
			d.EndDate = &end
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *SQLSource) GetCommissionTable(ctx context.Context, teamID int64) (migration.CommissionTable, error) {
	var r commissionRecord
	err := s.db.GetContext(ctx, &r, `SELECT equipo_venta_id,
       porcentaje_gerente_equipo::text AS porcentaje_gerente_equipo,
       porcentaje_jefe_venta::text AS porcentaje_jefe_venta,
       porcentaje_team_leader::text AS porcentaje_team_leader,
       porcentaje_vendedor::text AS porcentaje_vendedor,
       activo, created_at
FROM `+tablePrefix+`comisionventa
WHERE equipo_venta_id = $1`, teamID)
	if errors.Is(err, sql.ErrNoRows) {
		return migration.CommissionTable{}, gerrors.Wrapf(migration.ErrNoCommissionTable, "team %d", teamID)
	}
	if err != nil {
		return migration.CommissionTable{}, gerrors.Wrapf(err, "select commission table of team %d", teamID)
	}
	return migration.CommissionTable{
		TeamID: r.TeamID,
		Percentages: map[position.Code]string{
			position.CodeManager:    r.Manager,
			position.CodeSupervisor: r.Supervisor,
			position.CodeTeamLead:   r.TeamLead,
			position.CodeAgent:      r.Agent,
		},
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
	}, nil
}

var (
	_ migration.LegacySource = (*SQLSource)(nil)
	_ migration.LegacySource = (*FixtureSource)(nil)
)
