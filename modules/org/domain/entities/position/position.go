package position

import (
	"context"
	"fmt"
	"slices"
	"strings"

	gerrors "github.com/go-faster/errors"

	"github.com/iota-uz/salesorg/modules/org/domain/entities/unit"
)

type Code string

const (
	CodeManager    Code = "MANAGER"
	CodeSupervisor Code = "SUPERVISOR"
	CodeTeamLead   Code = "TEAM_LEAD"
	CodeAgent      Code = "AGENT"
)

var AllCodes = []Code{CodeManager, CodeSupervisor, CodeTeamLead, CodeAgent}

var (
	ErrNotFound  = gerrors.New("position type not found")
	ErrDuplicate = gerrors.New("position type code already exists")
)

func ParseCode(v string) (Code, error) {
	c := Code(strings.ToUpper(strings.TrimSpace(v)))
	if !c.IsValid() {
		return "", fmt.Errorf("unknown position code %q", v)
	}
	return c, nil
}

func (c Code) IsValid() bool {
	return slices.Contains(AllCodes, c)
}

// PositionType is immutable reference data. A lower HierarchyLevel is more senior.
type PositionType struct {
	Code                 Code
	Name                 string
	HierarchyLevel       int
	CanSupervise         bool
	CanHaveDirectReports bool
	// Empty means the position applies to every unit type.
	ApplicableUnitTypes []unit.Type
	Description         string
}

func (p PositionType) AppliesTo(t unit.Type) bool {
	return len(p.ApplicableUnitTypes) == 0 || slices.Contains(p.ApplicableUnitTypes, t)
}

func DefaultSalesPositions() []PositionType {
	sales := []unit.Type{unit.TypeSales}
	return []PositionType{
		{Code: CodeManager, Name: "Sales Manager", HierarchyLevel: 1, CanSupervise: true, CanHaveDirectReports: true, ApplicableUnitTypes: sales, Description: "Sales team manager"},
		{Code: CodeSupervisor, Name: "Sales Supervisor", HierarchyLevel: 2, CanSupervise: true, CanHaveDirectReports: true, ApplicableUnitTypes: sales, Description: "Sales supervisor"},
		{Code: CodeTeamLead, Name: "Team Lead", HierarchyLevel: 3, CanSupervise: true, CanHaveDirectReports: false, ApplicableUnitTypes: sales, Description: "Sales team lead"},
		{Code: CodeAgent, Name: "Sales Agent", HierarchyLevel: 4, CanSupervise: false, CanHaveDirectReports: false, ApplicableUnitTypes: sales, Description: "Sales agent"},
	}
}

type Repository interface {
	ListPositionTypes(ctx context.Context) ([]PositionType, error)
	GetPositionType(ctx context.Context, code Code) (PositionType, error)
	CreatePositionType(ctx context.Context, p PositionType) (PositionType, error)
}
