package membership

import (
	"fmt"
	"strings"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
)

type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusSuspended  Status = "SUSPENDED"
	StatusTerminated Status = "TERMINATED"
)

type AssignmentType string

const (
	AssignmentPermanent AssignmentType = "PERMANENT"
	AssignmentTemporary AssignmentType = "TEMPORARY"
	AssignmentInterim   AssignmentType = "INTERIM"
)

var (
	ErrNotFound          = gerrors.New("team membership not found")
	ErrInvalidTransition = gerrors.New("invalid membership status transition")
	ErrActiveExists      = gerrors.New("user already has an active membership in this unit")
)

func ParseAssignmentType(v string) (AssignmentType, error) {
	t := AssignmentType(strings.ToUpper(strings.TrimSpace(v)))
	switch t {
	case "":
		return AssignmentPermanent, nil
	case AssignmentPermanent, AssignmentTemporary, AssignmentInterim:
		return t, nil
	default:
		return "", fmt.Errorf("unknown assignment type %q", v)
	}
}

// Membership binds one user to one unit and position over a validity window.
// Status is the only stored lifecycle state; activity is derived from it and
// the window, see IsActiveAt.
type Membership struct {
	id              uuid.UUID
	userID          uuid.UUID
	userDisplayName string
	unitID          uuid.UUID
	positionCode    position.Code
	startDate       time.Time
	endDate         *time.Time
	status          Status
	assignmentType  AssignmentType
	notes           string
	createdAt       time.Time
}

type Fields struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	UserDisplayName string
	UnitID          uuid.UUID
	PositionCode    position.Code
	StartDate       time.Time
	EndDate         *time.Time
	Status          Status
	AssignmentType  AssignmentType
	Notes           string
	CreatedAt       time.Time
}

func New(
	userID uuid.UUID,
	userDisplayName string,
	unitID uuid.UUID,
	positionCode position.Code,
	startDate time.Time,
	assignmentType AssignmentType,
	notes string,
) Membership {
	if assignmentType == "" {
		assignmentType = AssignmentPermanent
	}
	return Membership{
		id:              uuid.New(),
		userID:          userID,
		userDisplayName: strings.TrimSpace(userDisplayName),
		unitID:          unitID,
		positionCode:    positionCode,
		startDate:       startDate.UTC(),
		status:          StatusActive,
		assignmentType:  assignmentType,
		notes:           strings.TrimSpace(notes),
		createdAt:       time.Now().UTC(),
	}
}

func Hydrate(f Fields) Membership {
	return Membership{
		id:              f.ID,
		userID:          f.UserID,
		userDisplayName: f.UserDisplayName,
		unitID:          f.UnitID,
		positionCode:    f.PositionCode,
		startDate:       f.StartDate,
		endDate:         f.EndDate,
		status:          f.Status,
		assignmentType:  f.AssignmentType,
		notes:           f.Notes,
		createdAt:       f.CreatedAt,
	}
}

func (m Membership) ID() uuid.UUID                  { return m.id }
func (m Membership) UserID() uuid.UUID              { return m.userID }
func (m Membership) UserDisplayName() string        { return m.userDisplayName }
func (m Membership) UnitID() uuid.UUID              { return m.unitID }
func (m Membership) PositionCode() position.Code    { return m.positionCode }
func (m Membership) StartDate() time.Time           { return m.startDate }
func (m Membership) EndDate() *time.Time            { return m.endDate }
func (m Membership) Status() Status                 { return m.status }
func (m Membership) AssignmentType() AssignmentType { return m.assignmentType }
func (m Membership) Notes() string                  { return m.notes }
func (m Membership) CreatedAt() time.Time           { return m.createdAt }
func (m Membership) IsZero() bool                   { return m.id == uuid.Nil }

func (m Membership) IsActiveAt(t time.Time) bool {
	if m.status != StatusActive || t.Before(m.startDate) {
		return false
	}
	return m.endDate == nil || t.Before(*m.endDate)
}

func (m Membership) Suspend() (Membership, error) {
	if m.status != StatusActive {
		return m, gerrors.Wrapf(ErrInvalidTransition, "%s -> %s", m.status, StatusSuspended)
	}
	m.status = StatusSuspended
	return m, nil
}

func (m Membership) Reactivate() (Membership, error) {
	if m.status != StatusSuspended {
		return m, gerrors.Wrapf(ErrInvalidTransition, "%s -> %s", m.status, StatusActive)
	}
	m.status = StatusActive
	return m, nil
}

// Terminate is final. The end date is clamped so it never precedes the start.
func (m Membership) Terminate(at time.Time) (Membership, error) {
	if m.status == StatusTerminated {
		return m, gerrors.Wrapf(ErrInvalidTransition, "%s -> %s", m.status, StatusTerminated)
	}
	end := at.UTC()
	if end.Before(m.startDate) {
		end = m.startDate
	}
	m.status = StatusTerminated
	m.endDate = &end
	return m, nil
}

func (m Membership) WithNotes(notes string) Membership {
	m.notes = strings.TrimSpace(notes)
	return m
}
