package services

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/unit"
)

type CreateUnitInput struct {
	Code        string     `validate:"required,max=64"`
	Name        string     `validate:"required,max=255"`
	Type        string     `validate:"required"`
	ParentID    *uuid.UUID `validate:"omitempty"`
	Description string
}

type DirectoryService struct {
	store Store
	opts  Options
}

func NewDirectoryService(store Store, opts Options) *DirectoryService {
	return &DirectoryService{store: store, opts: opts.normalized()}
}

func (s *DirectoryService) CreateUnit(ctx context.Context, in CreateUnitInput) (_ unit.Unit, err error) {
	ctx, span := startSpan(ctx, "org.directory.create_unit", attribute.String("code", in.Code))
	defer func() {
		recordStructuralWrite("create_unit", err)
		endSpan(span, err)
	}()

	if err := validateInput(in); err != nil {
		return unit.Unit{}, err
	}
	typ, err := unit.ParseType(in.Type)
	if err != nil {
		return unit.Unit{}, newServiceError(http.StatusBadRequest, CodeInvalidBody, err.Error(), err)
	}

	created, err := inTx(ctx, s.store, func(txCtx context.Context) (unit.Unit, error) {
		if in.ParentID != nil {
			if _, err := s.store.GetUnit(txCtx, *in.ParentID); err != nil {
				return unit.Unit{}, err
			}
		}
		return s.store.CreateUnit(txCtx, unit.New(in.Code, in.Name, typ, in.ParentID, in.Description))
	})
	if err != nil {
		return unit.Unit{}, mapError(err)
	}
	logWithFields(ctx, logrus.InfoLevel, "org.unit.created", logrus.Fields{
		"unit_id": created.ID.String(),
		"code":    created.Code,
	})
	return created, nil
}

// EnsureDefaultPositions creates the four sales positions that are missing
// and returns how many it created.
func (s *DirectoryService) EnsureDefaultPositions(ctx context.Context) (int, error) {
	created, err := inTx(ctx, s.store, func(txCtx context.Context) (int, error) {
		n := 0
		for _, p := range position.DefaultSalesPositions() {
			_, err := s.store.GetPositionType(txCtx, p.Code)
			if err == nil {
				continue
			}
			if !errors.Is(err, position.ErrNotFound) {
				return n, err
			}
			if _, err := s.store.CreatePositionType(txCtx, p); err != nil {
				return n, err
			}
			n++
		}
		return n, nil
	})
	if err != nil {
		return 0, mapError(err)
	}
	if created > 0 {
		logWithFields(ctx, logrus.InfoLevel, "org.positions.seeded", logrus.Fields{"created": created})
	}
	return created, nil
}

func (s *DirectoryService) ListPositionTypes(ctx context.Context) ([]position.PositionType, error) {
	types, err := s.store.ListPositionTypes(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return types, nil
}

func (s *DirectoryService) GetUnit(ctx context.Context, id uuid.UUID) (unit.Unit, error) {
	u, err := s.store.GetUnit(ctx, id)
	if err != nil {
		return unit.Unit{}, mapError(err)
	}
	return u, nil
}

func (s *DirectoryService) GetUnitByCode(ctx context.Context, code string) (unit.Unit, error) {
	u, err := s.store.GetUnitByCode(ctx, code)
	if err != nil {
		return unit.Unit{}, mapError(err)
	}
	return u, nil
}

func (s *DirectoryService) ListUnits(ctx context.Context) ([]unit.Unit, error) {
	units, err := s.store.ListUnits(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return units, nil
}
