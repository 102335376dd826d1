package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/commission"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
)

type SetStructureInput struct {
	UnitID uuid.UUID `validate:"required"`
	Name   string    `validate:"required,max=255"`
	// Empty means SALES.
	Type string
	// Position code to percentage, e.g. {"AGENT": "40.00"}.
	Percentages   map[string]string `validate:"required,min=1"`
	EffectiveFrom time.Time
}

type CommissionStructureService struct {
	store  Store
	locker UnitLocker
	opts   Options
}

func NewCommissionStructureService(store Store, locker UnitLocker, opts Options) *CommissionStructureService {
	return &CommissionStructureService{store: store, locker: locker, opts: opts.normalized()}
}

// SetCommissionStructure stores a new version of the unit's table and closes
// the version it replaces at the new EffectiveFrom.
func (s *CommissionStructureService) SetCommissionStructure(ctx context.Context, in SetStructureInput) (_ commission.Structure, err error) {
	ctx, span := startSpan(ctx, "org.commission.set_structure", attribute.String("unit_id", in.UnitID.String()))
	defer func() {
		recordStructuralWrite("set_commission_structure", err)
		endSpan(span, err)
	}()

	if err := validateInput(in); err != nil {
		return commission.Structure{}, err
	}
	table, err := commission.ParseTable(in.Percentages)
	if err != nil {
		return commission.Structure{}, mapError(err)
	}
	typ := commission.Type(strings.ToUpper(strings.TrimSpace(in.Type)))
	if typ == "" {
		typ = commission.TypeSales
	}
	from := in.EffectiveFrom.UTC()
	if in.EffectiveFrom.IsZero() {
		from = s.opts.Now().UTC()
	}

	created, err := withUnitWriteLock(ctx, s.locker, s.store, in.UnitID, func(txCtx context.Context) (commission.Structure, error) {
		u, err := s.store.GetUnit(txCtx, in.UnitID)
		if err != nil {
			return commission.Structure{}, err
		}
		structure, err := commission.New(u.ID, in.Name, typ, table, from)
		if err != nil {
			return commission.Structure{}, err
		}
		types, err := s.store.ListPositionTypes(txCtx)
		if err != nil {
			return commission.Structure{}, err
		}
		h := position.NewHierarchy(types, u.Type)
		if structure.OverAllocated(h) {
			return commission.Structure{}, newServiceError(http.StatusUnprocessableEntity, CodeCommissionOverAllocated,
				fmt.Sprintf("a single coverage band allocates %s%%", structure.MaxCoverageBand(h).StringFixed(2)), nil)
		}

		existing, err := s.store.ListStructuresByUnit(txCtx, u.ID)
		if err != nil {
			return commission.Structure{}, err
		}
		for _, prev := range existing {
			if prev.CommissionType() != typ || !prev.Active() {
				continue
			}
			if prev.EffectiveTo() != nil && !prev.EffectiveTo().After(from) {
				continue
			}
			next := prev.Close(from)
			if !prev.EffectiveFrom().Before(from) {
				// Superseded before it ever took effect.
				next = next.Deactivate()
			}
			if err := s.store.UpdateStructure(txCtx, next); err != nil {
				return commission.Structure{}, err
			}
		}
		return s.store.CreateStructure(txCtx, structure)
	})
	if err != nil {
		return commission.Structure{}, mapError(err)
	}
	logWithFields(ctx, logrus.InfoLevel, "org.commission.structure_set", logrus.Fields{
		"unit_id":        created.UnitID().String(),
		"structure_id":   created.ID().String(),
		"effective_from": created.EffectiveFrom().Format(time.RFC3339),
		"total":          created.Total().StringFixed(2),
	})
	return created, nil
}

// GetActiveStructure returns the structure of the given type in effect at asOf.
func (s *CommissionStructureService) GetActiveStructure(ctx context.Context, unitID uuid.UUID, typ commission.Type, asOf time.Time) (commission.Structure, error) {
	if typ == "" {
		typ = commission.TypeSales
	}
	if asOf.IsZero() {
		asOf = s.opts.Now()
	}
	structures, err := s.store.ListStructuresByUnit(ctx, unitID)
	if err != nil {
		return commission.Structure{}, mapError(err)
	}
	active, ok := commission.ActiveAt(structures, typ, asOf.UTC())
	if !ok {
		return commission.Structure{}, newServiceError(http.StatusNotFound, CodeNoCommissionStructure,
			fmt.Sprintf("no active %s commission structure", typ), nil)
	}
	return active, nil
}
