package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func mapPgError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return newServiceError(http.StatusNotFound, "ORG_NOT_FOUND", "not found", err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		recordWriteConflict("unique")
		switch pgErr.ConstraintName {
		case "org_team_memberships_active_user_unit_key":
			return newServiceError(http.StatusConflict, CodeMembershipExists, "user already has an active membership in this unit", err)
		case "org_units_code_key", "org_units_name_key":
			return newServiceError(http.StatusConflict, CodeUnitConflict, "unit code or name already exists", err)
		case "org_position_types_pkey":
			return newServiceError(http.StatusConflict, CodePositionExists, "position type already exists", err)
		default:
			return newServiceError(http.StatusConflict, CodeRelationExists, "unique constraint violated", err)
		}
	case "23503": // foreign_key_violation
		recordWriteConflict("foreign_key")
		switch pgErr.ConstraintName {
		case "org_team_memberships_unit_fk", "org_commission_structures_unit_fk", "org_units_parent_fk":
			return newServiceError(http.StatusUnprocessableEntity, CodeUnitNotFound, "organizational unit not found", err)
		case "org_team_memberships_position_fk", "org_commission_percentages_position_fk":
			return newServiceError(http.StatusUnprocessableEntity, CodePositionNotFound, "position type not found", err)
		case "org_hierarchy_relations_supervisor_fk", "org_hierarchy_relations_subordinate_fk":
			return newServiceError(http.StatusUnprocessableEntity, CodeMembershipNotFound, "relation endpoint not found", err)
		default:
			return newServiceError(http.StatusUnprocessableEntity, CodeInvalidBody, "foreign key violation", err)
		}
	case "23514": // check_violation
		recordWriteConflict("check")
		if pgErr.ConstraintName == "org_hierarchy_relations_not_self" {
			return newServiceError(http.StatusUnprocessableEntity, CodeSelfSupervision, "a membership cannot supervise itself", err)
		}
		return newServiceError(http.StatusUnprocessableEntity, CodeInvalidBody, "check constraint violated", err)
	default:
		return newServiceError(http.StatusInternalServerError, CodeInternal, fmt.Sprintf("database error (%s)", pgErr.Code), err)
	}
}
