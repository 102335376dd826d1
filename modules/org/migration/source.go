package migration

import (
	"context"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/commission"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/membership"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/relation"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/unit"
)

// ErrNoCommissionTable is returned by GetCommissionTable for teams without one.
var ErrNoCommissionTable = gerrors.New("legacy team has no commission table")

// Team is a legacy sales team. It becomes one SALES unit.
type Team struct {
	ID          int64
	Name        string
	Description string
	Active      bool
	CreatedAt   time.Time
}

// RoleRow is one row of a legacy role table. ParentID points at the row of
// the next senior role table (zero for managers, which hang off the team).
// A user may appear in several tables of the same team.
type RoleRow struct {
	ID              int64
	Role            position.Code
	ParentID        int64
	UserID          uuid.UUID
	UserDisplayName string
	Active          bool
}

type DirectSupervision struct {
	ID                int64
	TeamID            int64
	SupervisorUserID  uuid.UUID
	SubordinateUserID uuid.UUID
	Kind              string
	StartDate         time.Time
	EndDate           *time.Time
	Notes             string
	Active            bool
}

type CommissionTable struct {
	TeamID      int64
	Percentages map[position.Code]string
	Active      bool
	CreatedAt   time.Time
}

// LegacySource walks the legacy tables. Managers are found by team, every
// other role by the id of its parent row.
type LegacySource interface {
	ListTeams(ctx context.Context) ([]Team, error)
	ListManagers(ctx context.Context, teamID int64) ([]RoleRow, error)
	// ListChildren returns the rows of the role directly below parentRole
	// whose parent is parentRowID. Agents have no children.
	ListChildren(ctx context.Context, parentRole position.Code, parentRowID int64) ([]RoleRow, error)
	ListDirectSupervisions(ctx context.Context, teamID int64) ([]DirectSupervision, error)
	GetCommissionTable(ctx context.Context, teamID int64) (CommissionTable, error)
}

// Store is the part of the org store the migration writes through. Both the
// Postgres and the in-memory store satisfy it; get-or-create is built on top
// of these lookups so a rerun finds what the previous run created.
type Store interface {
	position.Repository
	unit.Repository
	membership.Repository
	relation.Repository
	commission.Repository

	InTx(ctx context.Context, fn func(context.Context) error) error
}

// legacyChain lists the legacy role tables from most to least senior.
var legacyChain = []position.Code{
	position.CodeManager,
	position.CodeSupervisor,
	position.CodeTeamLead,
	position.CodeAgent,
}

// ChildRole returns the role stored below parent in the legacy tables.
func ChildRole(parent position.Code) (position.Code, bool) {
	for i, c := range legacyChain {
		if c == parent && i+1 < len(legacyChain) {
			return legacyChain[i+1], true
		}
	}
	return "", false
}
