package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/commission"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/membership"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/relation"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/unit"
)

const (
	CodeInvalidBody             = "ORG_INVALID_BODY"
	CodeUnitNotFound            = "ORG_UNIT_NOT_FOUND"
	CodeUnitInactive            = "ORG_UNIT_INACTIVE"
	CodeUnitConflict            = "ORG_UNIT_CONFLICT"
	CodePositionNotFound        = "ORG_POSITION_NOT_FOUND"
	CodePositionExists          = "ORG_POSITION_EXISTS"
	CodePositionNotApplicable   = "ORG_POSITION_NOT_APPLICABLE"
	CodeMembershipNotFound      = "ORG_MEMBERSHIP_NOT_FOUND"
	CodeMembershipInactive      = "ORG_MEMBERSHIP_INACTIVE"
	CodeMembershipExists        = "ORG_MEMBERSHIP_EXISTS"
	CodeInvalidTransition       = "ORG_INVALID_TRANSITION"
	CodeRelationNotFound        = "ORG_RELATION_NOT_FOUND"
	CodeRelationExists          = "ORG_RELATION_EXISTS"
	CodeSelfSupervision         = "ORG_SELF_SUPERVISION"
	CodeCrossUnitRelation       = "ORG_CROSS_UNIT_RELATION"
	CodeCannotSupervise         = "ORG_CANNOT_SUPERVISE"
	CodeInvalidHierarchyLevel   = "ORG_INVALID_HIERARCHY_LEVEL"
	CodeDirectRequiresSkip      = "ORG_DIRECT_REQUIRES_SKIP"
	CodeUnknownPositionCode     = "ORG_UNKNOWN_POSITION_CODE"
	CodeInvalidPercentage       = "ORG_INVALID_PERCENTAGE"
	CodeCommissionOverAllocated = "ORG_COMMISSION_OVER_ALLOCATED"
	CodeNoCommissionStructure   = "ORG_NO_COMMISSION_STRUCTURE"
	CodeCircularReporting       = "ORG_CIRCULAR_REPORTING"
	CodeChainTooDeep            = "ORG_CHAIN_TOO_DEEP"
	CodeStructureNotFound       = "ORG_COMMISSION_STRUCTURE_NOT_FOUND"
	CodeInternal                = "ORG_INTERNAL"
)

type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}

// IsCode reports whether err is a ServiceError with the given code.
func IsCode(err error, code string) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.Code == code
}

// mapError turns repository sentinels and pg errors into ServiceErrors.
// Errors that are already ServiceErrors pass through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	switch {
	case errors.Is(err, unit.ErrNotFound):
		return newServiceError(http.StatusNotFound, CodeUnitNotFound, "organizational unit not found", err)
	case errors.Is(err, unit.ErrDuplicate):
		recordWriteConflict("unique")
		return newServiceError(http.StatusConflict, CodeUnitConflict, "unit code or name already exists", err)
	case errors.Is(err, position.ErrNotFound):
		return newServiceError(http.StatusUnprocessableEntity, CodePositionNotFound, "position type not found", err)
	case errors.Is(err, position.ErrDuplicate):
		recordWriteConflict("unique")
		return newServiceError(http.StatusConflict, CodePositionExists, "position type already exists", err)
	case errors.Is(err, membership.ErrNotFound):
		return newServiceError(http.StatusNotFound, CodeMembershipNotFound, "membership not found", err)
	case errors.Is(err, membership.ErrActiveExists):
		recordWriteConflict("unique")
		return newServiceError(http.StatusConflict, CodeMembershipExists, "user already has an active membership in this unit", err)
	case errors.Is(err, membership.ErrInvalidTransition):
		return newServiceError(http.StatusConflict, CodeInvalidTransition, "invalid membership status transition", err)
	case errors.Is(err, relation.ErrNotFound):
		return newServiceError(http.StatusNotFound, CodeRelationNotFound, "relation not found", err)
	case errors.Is(err, commission.ErrNotFound):
		return newServiceError(http.StatusNotFound, CodeStructureNotFound, "commission structure not found", err)
	case errors.Is(err, commission.ErrUnknownPositionCode):
		return newServiceError(http.StatusUnprocessableEntity, CodeUnknownPositionCode, "unknown position code in commission table", err)
	case errors.Is(err, commission.ErrInvalidPercentage):
		return newServiceError(http.StatusUnprocessableEntity, CodeInvalidPercentage, "invalid percentage", err)
	}
	return mapPgError(err)
}
