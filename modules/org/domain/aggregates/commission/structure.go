package commission

import (
	"context"
	"fmt"
	"strings"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
)

type Type string

const TypeSales Type = "SALES"

var (
	ErrNotFound            = gerrors.New("commission structure not found")
	ErrUnknownPositionCode = gerrors.New("unknown position code in commission table")
)

// Structure is a versioned per-unit percentage table keyed by position code.
type Structure struct {
	id             uuid.UUID
	unitID         uuid.UUID
	name           string
	commissionType Type
	percentages    map[position.Code]Percentage
	effectiveFrom  time.Time
	effectiveTo    *time.Time
	active         bool
	createdAt      time.Time
}

type Fields struct {
	ID             uuid.UUID
	UnitID         uuid.UUID
	Name           string
	CommissionType Type
	Percentages    map[position.Code]Percentage
	EffectiveFrom  time.Time
	EffectiveTo    *time.Time
	Active         bool
	CreatedAt      time.Time
}

func New(unitID uuid.UUID, name string, typ Type, percentages map[position.Code]Percentage, effectiveFrom time.Time) (Structure, error) {
	if typ == "" {
		typ = TypeSales
	}
	table, err := copyTable(percentages)
	if err != nil {
		return Structure{}, err
	}
	return Structure{
		id:             uuid.New(),
		unitID:         unitID,
		name:           strings.TrimSpace(name),
		commissionType: typ,
		percentages:    table,
		effectiveFrom:  effectiveFrom.UTC(),
		active:         true,
		createdAt:      time.Now().UTC(),
	}, nil
}

// ParseTable converts a loosely typed code -> percentage map, rejecting unknown codes.
func ParseTable(raw map[string]string) (map[position.Code]Percentage, error) {
	out := make(map[position.Code]Percentage, len(raw))
	for k, v := range raw {
		code, err := position.ParseCode(k)
		if err != nil {
			return nil, gerrors.Wrap(ErrUnknownPositionCode, err.Error())
		}
		p, err := ParsePercentage(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", code, err)
		}
		out[code] = p
	}
	return out, nil
}

func Hydrate(f Fields) Structure {
	return Structure{
		id:             f.ID,
		unitID:         f.UnitID,
		name:           f.Name,
		commissionType: f.CommissionType,
		percentages:    f.Percentages,
		effectiveFrom:  f.EffectiveFrom,
		effectiveTo:    f.EffectiveTo,
		active:         f.Active,
		createdAt:      f.CreatedAt,
	}
}

func copyTable(in map[position.Code]Percentage) (map[position.Code]Percentage, error) {
	out := make(map[position.Code]Percentage, len(in))
	for code, p := range in {
		if !code.IsValid() {
			return nil, gerrors.Wrapf(ErrUnknownPositionCode, "%q", code)
		}
		out[code] = p
	}
	return out, nil
}

func (s Structure) ID() uuid.UUID            { return s.id }
func (s Structure) UnitID() uuid.UUID        { return s.unitID }
func (s Structure) Name() string             { return s.name }
func (s Structure) CommissionType() Type     { return s.commissionType }
func (s Structure) EffectiveFrom() time.Time { return s.effectiveFrom }
func (s Structure) EffectiveTo() *time.Time  { return s.effectiveTo }
func (s Structure) Active() bool             { return s.active }
func (s Structure) CreatedAt() time.Time     { return s.createdAt }

func (s Structure) Percentages() map[position.Code]Percentage {
	out := make(map[position.Code]Percentage, len(s.percentages))
	for k, v := range s.percentages {
		out[k] = v
	}
	return out
}

// PercentageFor returns zero for codes absent from the table.
func (s Structure) PercentageFor(code position.Code) Percentage {
	return s.percentages[code]
}

func (s Structure) IsEffectiveAt(t time.Time) bool {
	if !s.active || t.Before(s.effectiveFrom) {
		return false
	}
	return s.effectiveTo == nil || t.Before(*s.effectiveTo)
}

func (s Structure) Total() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.percentages {
		total = total.Add(p.Decimal())
	}
	return total
}

// CoverageBand is what a holder of the given level can absorb: every configured
// percentage at that level or more junior.
func (s Structure) CoverageBand(level int, h position.Hierarchy) decimal.Decimal {
	total := decimal.Zero
	for _, code := range h.AtOrBelow(level) {
		total = total.Add(s.PercentageFor(code).Decimal())
	}
	return total
}

// MaxCoverageBand returns the widest band across the hierarchy's levels.
// Codes the hierarchy does not know are added on top, since nothing bounds them.
func (s Structure) MaxCoverageBand(h position.Hierarchy) decimal.Decimal {
	widest := decimal.Zero
	for _, level := range h.Levels() {
		if band := s.CoverageBand(level, h); band.GreaterThan(widest) {
			widest = band
		}
	}
	for code, p := range s.percentages {
		if _, ok := h.Level(code); !ok {
			widest = widest.Add(p.Decimal())
		}
	}
	return widest
}

func (s Structure) OverAllocated(h position.Hierarchy) bool {
	return s.MaxCoverageBand(h).GreaterThan(hundred)
}

// Close ends the structure's validity at t.
func (s Structure) Close(t time.Time) Structure {
	end := t.UTC()
	if end.Before(s.effectiveFrom) {
		end = s.effectiveFrom
	}
	s.effectiveTo = &end
	return s
}

func (s Structure) Deactivate() Structure {
	s.active = false
	return s
}

type Repository interface {
	ListStructuresByUnit(ctx context.Context, unitID uuid.UUID) ([]Structure, error)
	CreateStructure(ctx context.Context, s Structure) (Structure, error)
	UpdateStructure(ctx context.Context, s Structure) error
}

// ActiveAt picks the structure of the given type effective at t; the latest
// EffectiveFrom wins. ok is false when none applies.
func ActiveAt(structures []Structure, typ Type, t time.Time) (Structure, bool) {
	var (
		best  Structure
		found bool
	)
	for _, s := range structures {
		if s.commissionType != typ || !s.IsEffectiveAt(t) {
			continue
		}
		if !found || s.effectiveFrom.After(best.effectiveFrom) ||
			(s.effectiveFrom.Equal(best.effectiveFrom) && s.id.String() > best.id.String()) {
			best, found = s, true
		}
	}
	return best, found
}
