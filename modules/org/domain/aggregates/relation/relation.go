package relation

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
	TypeNormal  Type = "NORMAL"
	TypeDirect  Type = "DIRECT"
	TypeMatrix  Type = "MATRIX"
	TypeProject Type = "PROJECT"
)

type Authority string

const (
	AuthorityFull           Authority = "FULL"
	AuthorityFunctional     Authority = "FUNCTIONAL"
	AuthorityAdministrative Authority = "ADMINISTRATIVE"
)

var ErrNotFound = gerrors.New("hierarchy relation not found")

func ParseType(v string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(v)))
	switch t {
	case TypeNormal, TypeDirect, TypeMatrix, TypeProject:
		return t, nil
	default:
		return "", fmt.Errorf("unknown relation type %q", v)
	}
}

func ParseAuthority(v string) (Authority, error) {
	a := Authority(strings.ToUpper(strings.TrimSpace(v)))
	switch a {
	case "":
		return AuthorityFull, nil
	case AuthorityFull, AuthorityFunctional, AuthorityAdministrative:
		return a, nil
	default:
		return "", fmt.Errorf("unknown authority level %q", v)
	}
}

// CarriesCommission reports whether commission flows along this kind of line.
// Matrix and project lines are functional only.
func (t Type) CarriesCommission() bool {
	return t == TypeNormal || t == TypeDirect
}

// Relation is a directed reporting line between two memberships,
// referenced by id only.
type Relation struct {
	ID            uuid.UUID
	SupervisorID  uuid.UUID
	SubordinateID uuid.UUID
	Type          Type
	Authority     Authority
	IsPrimary     bool
	StartDate     time.Time
	EndDate       *time.Time
	Justification string
	CreatedAt     time.Time
}

func New(supervisorID, subordinateID uuid.UUID, typ Type, authority Authority, isPrimary bool, start time.Time, justification string) Relation {
	if authority == "" {
		authority = AuthorityFull
	}
	return Relation{
		ID:            uuid.New(),
		SupervisorID:  supervisorID,
		SubordinateID: subordinateID,
		Type:          typ,
		Authority:     authority,
		IsPrimary:     isPrimary,
		StartDate:     start.UTC(),
		Justification: strings.TrimSpace(justification),
		CreatedAt:     time.Now().UTC(),
	}
}

func (r Relation) IsActiveAt(t time.Time) bool {
	if t.Before(r.StartDate) {
		return false
	}
	return r.EndDate == nil || t.Before(*r.EndDate)
}

// EndAt invalidates the relation. Already ended relations keep their end date.
func (r Relation) EndAt(t time.Time) Relation {
	if r.EndDate != nil && !r.EndDate.After(t) {
		return r
	}
	end := t.UTC()
	if end.Before(r.StartDate) {
		end = r.StartDate
	}
	r.EndDate = &end
	return r
}

func (r Relation) Touches(membershipID uuid.UUID) bool {
	return r.SupervisorID == membershipID || r.SubordinateID == membershipID
}

type Repository interface {
	GetRelation(ctx context.Context, id uuid.UUID) (Relation, error)
	// ListRelationsByUnit returns every relation with at least one endpoint in the unit.
	ListRelationsByUnit(ctx context.Context, unitID uuid.UUID) ([]Relation, error)
	ListRelationsByMembership(ctx context.Context, membershipID uuid.UUID) ([]Relation, error)
	CreateRelation(ctx context.Context, r Relation) (Relation, error)
	UpdateRelation(ctx context.Context, r Relation) error
}
