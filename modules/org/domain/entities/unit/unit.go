package unit

import (
	"context"
	"fmt"
	"strings"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
)

type Type string

const (
	TypeSales          Type = "SALES"
	TypeMarketing      Type = "MARKETING"
	TypeAdministration Type = "ADMINISTRATION"
	TypeOperations     Type = "OPERATIONS"
	TypeProject        Type = "PROJECT"
)

var (
	ErrNotFound  = gerrors.New("organizational unit not found")
	ErrDuplicate = gerrors.New("organizational unit code or name already exists")
)

func ParseType(v string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(v)))
	switch t {
	case TypeSales, TypeMarketing, TypeAdministration, TypeOperations, TypeProject:
		return t, nil
	default:
		return "", fmt.Errorf("unknown unit type %q", v)
	}
}

// Unit is a team or department node. ParentID forms a tree that is not
// checked for cycles here.
type Unit struct {
	ID          uuid.UUID
	Code        string
	Name        string
	Type        Type
	ParentID    *uuid.UUID
	Description string
	Active      bool
	CreatedAt   time.Time
}

func New(code, name string, typ Type, parentID *uuid.UUID, description string) Unit {
	return Unit{
		ID:          uuid.New(),
		Code:        strings.TrimSpace(code),
		Name:        strings.TrimSpace(name),
		Type:        typ,
		ParentID:    parentID,
		Description: strings.TrimSpace(description),
		Active:      true,
	}
}

// LegacyCode derives the unit code for a legacy sales team name.
func LegacyCode(teamName string) string {
	return "SALES_" + strings.ToUpper(strings.Join(strings.Fields(teamName), "_"))
}

type Repository interface {
	GetUnit(ctx context.Context, id uuid.UUID) (Unit, error)
	GetUnitByCode(ctx context.Context, code string) (Unit, error)
	ListUnits(ctx context.Context) ([]Unit, error)
	CreateUnit(ctx context.Context, u Unit) (Unit, error)
}
