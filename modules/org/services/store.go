package services

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/commission"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/membership"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/relation"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/unit"
	"github.com/iota-uz/salesorg/pkg/configuration"
	"github.com/iota-uz/salesorg/pkg/constants"
)

// Store is everything the org services read and write. InTx must nest: a
// call inside a running transaction behaves like a savepoint.
type Store interface {
	position.Repository
	unit.Repository
	membership.Repository
	relation.Repository
	commission.Repository

	InTx(ctx context.Context, fn func(context.Context) error) error
}

// UnitLocker is a coarse per-unit lock. Structural writes take the write
// side; calculations and analysis take the read side.
type UnitLocker interface {
	LockUnit(ctx context.Context, unitID uuid.UUID) (func(), error)
	RLockUnit(ctx context.Context, unitID uuid.UUID) (func(), error)
}

type CyclePolicy string

const (
	// CyclePolicyRefuse returns an error instead of a distribution when the
	// supervision chain loops or exceeds the depth cap.
	CyclePolicyRefuse CyclePolicy = "refuse"
	// CyclePolicyPartial returns what was computed before the loop, flagged as truncated.
	CyclePolicyPartial CyclePolicy = "partial"
)

type Options struct {
	MaxChainDepth int
	CyclePolicy   CyclePolicy
	Now           func() time.Time
}

func DefaultOptions() Options {
	return Options{
		MaxChainDepth: 64,
		CyclePolicy:   CyclePolicyRefuse,
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

func OptionsFromConfig(conf *configuration.Configuration) Options {
	opts := DefaultOptions()
	if conf == nil {
		return opts
	}
	if conf.Org.MaxChainDepth > 0 {
		opts.MaxChainDepth = conf.Org.MaxChainDepth
	}
	if conf.Org.CyclePolicy == configuration.CyclePolicyPartial {
		opts.CyclePolicy = CyclePolicyPartial
	}
	return opts
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.MaxChainDepth <= 0 {
		o.MaxChainDepth = def.MaxChainDepth
	}
	if o.CyclePolicy == "" {
		o.CyclePolicy = def.CyclePolicy
	}
	if o.Now == nil {
		o.Now = def.Now
	}
	return o
}

func inTx[T any](ctx context.Context, store Store, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := store.InTx(ctx, func(txCtx context.Context) error {
		var innerErr error
		out, innerErr = fn(txCtx)
		return innerErr
	})
	return out, err
}

// withUnitWriteLock runs fn in one transaction while holding the unit's write lock.
func withUnitWriteLock[T any](ctx context.Context, locker UnitLocker, store Store, unitID uuid.UUID, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	unlock, err := locker.LockUnit(ctx, unitID)
	if err != nil {
		return zero, err
	}
	defer unlock()
	return inTx(ctx, store, fn)
}

func withUnitReadLock[T any](ctx context.Context, locker UnitLocker, store Store, unitID uuid.UUID, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	unlock, err := locker.RLockUnit(ctx, unitID)
	if err != nil {
		return zero, err
	}
	defer unlock()
	return inTx(ctx, store, fn)
}

func validateInput(in any) error {
	err := constants.Validate.Struct(in)
	if err == nil {
		return nil
	}
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return newServiceError(http.StatusBadRequest, CodeInvalidBody, "invalid request body", err)
	}
	fields := make([]string, 0, len(validationErrs))
	for _, fe := range validationErrs {
		fields = append(fields, fe.Field()+" "+fe.Tag())
	}
	return newServiceError(http.StatusBadRequest, CodeInvalidBody, "invalid request body: "+strings.Join(fields, ", "), err)
}
