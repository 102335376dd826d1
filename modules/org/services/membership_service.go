package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/membership"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/relation"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
)

type AssignMemberInput struct {
	UserID          uuid.UUID `validate:"required"`
	UserDisplayName string    `validate:"max=255"`
	UnitID          uuid.UUID `validate:"required"`
	PositionCode    string    `validate:"required"`
	// Zero means now.
	StartDate      time.Time
	AssignmentType string
	Notes          string
}

type AddRelationInput struct {
	SupervisorMembershipID  uuid.UUID `validate:"required"`
	SubordinateMembershipID uuid.UUID `validate:"required"`
	Type                    string    `validate:"required"`
	Authority               string
	// Nil defaults to true for NORMAL lines and false for every other type.
	IsPrimary     *bool
	StartDate     time.Time
	Justification string
}

type ReplaceSupervisorInput struct {
	OldMembershipID uuid.UUID `validate:"required"`
	NewMembershipID uuid.UUID `validate:"required"`
	At              time.Time
}

type ReplaceSupervisorResult struct {
	Moved      []relation.Relation `json:"moved"`
	Ended      []relation.Relation `json:"ended"`
	Terminated membership.Membership
}

// MembershipService owns membership lifecycles and the supervision lines
// between them. Every multi-entity write runs in one transaction under the
// unit's write lock.
type MembershipService struct {
	store  Store
	locker UnitLocker
	opts   Options
}

func NewMembershipService(store Store, locker UnitLocker, opts Options) *MembershipService {
	return &MembershipService{store: store, locker: locker, opts: opts.normalized()}
}

func (s *MembershipService) at(t time.Time) time.Time {
	if t.IsZero() {
		return s.opts.Now().UTC()
	}
	return t.UTC()
}

func (s *MembershipService) AssignMember(ctx context.Context, in AssignMemberInput) (_ membership.Membership, err error) {
	ctx, span := startSpan(ctx, "org.membership.assign",
		attribute.String("unit_id", in.UnitID.String()),
		attribute.String("user_id", in.UserID.String()),
	)
	defer func() {
		recordStructuralWrite("assign_member", err)
		endSpan(span, err)
	}()

	if err := validateInput(in); err != nil {
		return membership.Membership{}, err
	}
	code, err := position.ParseCode(in.PositionCode)
	if err != nil {
		return membership.Membership{}, newServiceError(http.StatusUnprocessableEntity, CodePositionNotFound, err.Error(), err)
	}
	assignment, err := membership.ParseAssignmentType(in.AssignmentType)
	if err != nil {
		return membership.Membership{}, newServiceError(http.StatusBadRequest, CodeInvalidBody, err.Error(), err)
	}
	start := s.at(in.StartDate)

	created, err := withUnitWriteLock(ctx, s.locker, s.store, in.UnitID, func(txCtx context.Context) (membership.Membership, error) {
		u, err := s.store.GetUnit(txCtx, in.UnitID)
		if err != nil {
			return membership.Membership{}, err
		}
		if !u.Active {
			return membership.Membership{}, newServiceError(http.StatusUnprocessableEntity, CodeUnitInactive,
				fmt.Sprintf("unit %s is inactive", u.Code), nil)
		}
		pt, err := s.store.GetPositionType(txCtx, code)
		if err != nil {
			return membership.Membership{}, err
		}
		if !pt.AppliesTo(u.Type) {
			return membership.Membership{}, newServiceError(http.StatusUnprocessableEntity, CodePositionNotApplicable,
				fmt.Sprintf("position %s does not apply to unit type %s", code, u.Type), nil)
		}
		existing, err := s.store.ListMembershipsByUser(txCtx, in.UserID)
		if err != nil {
			return membership.Membership{}, err
		}
		for _, m := range existing {
			if m.UnitID() == u.ID && m.Status() == membership.StatusActive {
				recordWriteConflict("active_membership")
				return membership.Membership{}, newServiceError(http.StatusConflict, CodeMembershipExists,
					fmt.Sprintf("user already holds active membership %s in unit %s", m.ID(), u.Code), nil)
			}
		}
		return s.store.CreateMembership(txCtx, membership.New(in.UserID, in.UserDisplayName, u.ID, code, start, assignment, in.Notes))
	})
	if err != nil {
		return membership.Membership{}, mapError(err)
	}
	logWithFields(ctx, logrus.InfoLevel, "org.membership.assigned", logrus.Fields{
		"membership_id": created.ID().String(),
		"unit_id":       created.UnitID().String(),
		"user_id":       created.UserID().String(),
		"position":      string(created.PositionCode()),
	})
	return created, nil
}

// ActiveMembership finds the user's membership in the unit that is active now.
func (s *MembershipService) ActiveMembership(ctx context.Context, userID, unitID uuid.UUID) (membership.Membership, error) {
	ms, err := s.store.ListMembershipsByUser(ctx, userID)
	if err != nil {
		return membership.Membership{}, mapError(err)
	}
	now := s.opts.Now()
	for _, m := range ms {
		if m.UnitID() == unitID && m.IsActiveAt(now) {
			return m, nil
		}
	}
	return membership.Membership{}, newServiceError(http.StatusNotFound, CodeMembershipNotFound,
		fmt.Sprintf("user %s has no active membership in unit %s", userID, unitID), nil)
}

func (s *MembershipService) SuspendMembership(ctx context.Context, id uuid.UUID) (membership.Membership, error) {
	return s.transition(ctx, "suspend_membership", id, membership.Membership.Suspend)
}

func (s *MembershipService) ReactivateMembership(ctx context.Context, id uuid.UUID) (membership.Membership, error) {
	return s.transition(ctx, "reactivate_membership", id, membership.Membership.Reactivate)
}

func (s *MembershipService) transition(ctx context.Context, op string, id uuid.UUID, fn func(membership.Membership) (membership.Membership, error)) (_ membership.Membership, err error) {
	ctx, span := startSpan(ctx, "org.membership."+op, attribute.String("membership_id", id.String()))
	defer func() {
		recordStructuralWrite(op, err)
		endSpan(span, err)
	}()

	current, err := s.store.GetMembership(ctx, id)
	if err != nil {
		return membership.Membership{}, mapError(err)
	}
	updated, err := withUnitWriteLock(ctx, s.locker, s.store, current.UnitID(), func(txCtx context.Context) (membership.Membership, error) {
		m, err := s.store.GetMembership(txCtx, id)
		if err != nil {
			return membership.Membership{}, err
		}
		next, err := fn(m)
		if err != nil {
			return membership.Membership{}, err
		}
		return next, s.store.UpdateMembership(txCtx, next)
	})
	if err != nil {
		return membership.Membership{}, mapError(err)
	}
	logWithFields(ctx, logrus.InfoLevel, "org.membership."+op, logrus.Fields{
		"membership_id": id.String(),
		"status":        string(updated.Status()),
	})
	return updated, nil
}

// TerminateMembership ends the membership at the given time and invalidates
// every relation touching it. Relations are kept with an end date.
func (s *MembershipService) TerminateMembership(ctx context.Context, id uuid.UUID, at time.Time) (_ membership.Membership, err error) {
	ctx, span := startSpan(ctx, "org.membership.terminate", attribute.String("membership_id", id.String()))
	defer func() {
		recordStructuralWrite("terminate_membership", err)
		endSpan(span, err)
	}()

	at = s.at(at)
	current, err := s.store.GetMembership(ctx, id)
	if err != nil {
		return membership.Membership{}, mapError(err)
	}
	terminated, err := withUnitWriteLock(ctx, s.locker, s.store, current.UnitID(), func(txCtx context.Context) (membership.Membership, error) {
		m, err := s.store.GetMembership(txCtx, id)
		if err != nil {
			return membership.Membership{}, err
		}
		return s.terminate(txCtx, m, at)
	})
	if err != nil {
		return membership.Membership{}, mapError(err)
	}
	logWithFields(ctx, logrus.InfoLevel, "org.membership.terminated", logrus.Fields{
		"membership_id": id.String(),
		"unit_id":       terminated.UnitID().String(),
	})
	return terminated, nil
}

func (s *MembershipService) terminate(ctx context.Context, m membership.Membership, at time.Time) (membership.Membership, error) {
	rels, err := s.store.ListRelationsByMembership(ctx, m.ID())
	if err != nil {
		return membership.Membership{}, err
	}
	for _, r := range rels {
		if r.EndDate != nil && !r.EndDate.After(at) {
			continue
		}
		if err := s.store.UpdateRelation(ctx, r.EndAt(at)); err != nil {
			return membership.Membership{}, err
		}
	}
	terminated, err := m.Terminate(at)
	if err != nil {
		return membership.Membership{}, err
	}
	return terminated, s.store.UpdateMembership(ctx, terminated)
}

func (s *MembershipService) AddRelation(ctx context.Context, in AddRelationInput) (_ relation.Relation, err error) {
	ctx, span := startSpan(ctx, "org.relation.add",
		attribute.String("supervisor_membership_id", in.SupervisorMembershipID.String()),
		attribute.String("subordinate_membership_id", in.SubordinateMembershipID.String()),
	)
	defer func() {
		recordStructuralWrite("add_relation", err)
		endSpan(span, err)
	}()

	if err := validateInput(in); err != nil {
		return relation.Relation{}, err
	}
	if in.SupervisorMembershipID == in.SubordinateMembershipID {
		return relation.Relation{}, newServiceError(http.StatusUnprocessableEntity, CodeSelfSupervision,
			"a membership cannot supervise itself", nil)
	}
	typ, err := relation.ParseType(in.Type)
	if err != nil {
		return relation.Relation{}, newServiceError(http.StatusBadRequest, CodeInvalidBody, err.Error(), err)
	}
	authority, err := relation.ParseAuthority(in.Authority)
	if err != nil {
		return relation.Relation{}, newServiceError(http.StatusBadRequest, CodeInvalidBody, err.Error(), err)
	}
	primary := typ == relation.TypeNormal
	if in.IsPrimary != nil {
		primary = *in.IsPrimary
	}
	start := s.at(in.StartDate)

	sub, err := s.store.GetMembership(ctx, in.SubordinateMembershipID)
	if err != nil {
		return relation.Relation{}, mapError(err)
	}
	created, err := withUnitWriteLock(ctx, s.locker, s.store, sub.UnitID(), func(txCtx context.Context) (relation.Relation, error) {
		sup, err := s.store.GetMembership(txCtx, in.SupervisorMembershipID)
		if err != nil {
			return relation.Relation{}, err
		}
		sub, err := s.store.GetMembership(txCtx, in.SubordinateMembershipID)
		if err != nil {
			return relation.Relation{}, err
		}
		r := relation.New(sup.ID(), sub.ID(), typ, authority, primary, start, in.Justification)
		return s.createRelation(txCtx, sup, sub, r)
	})
	if err != nil {
		return relation.Relation{}, mapError(err)
	}
	logWithFields(ctx, logrus.InfoLevel, "org.relation.added", logrus.Fields{
		"relation_id":               created.ID.String(),
		"unit_id":                   sub.UnitID().String(),
		"supervisor_membership_id":  created.SupervisorID.String(),
		"subordinate_membership_id": created.SubordinateID.String(),
		"type":                      string(created.Type),
	})
	return created, nil
}

// createRelation checks r against the current graph and stores it. Callers
// hold the unit write lock and run inside a transaction.
func (s *MembershipService) createRelation(ctx context.Context, sup, sub membership.Membership, r relation.Relation) (relation.Relation, error) {
	if err := s.checkRelation(ctx, sup, sub, r.Type, r.StartDate); err != nil {
		return relation.Relation{}, err
	}
	existing, err := s.store.ListRelationsByMembership(ctx, sub.ID())
	if err != nil {
		return relation.Relation{}, err
	}
	for _, e := range existing {
		if e.SupervisorID == sup.ID() && e.SubordinateID == sub.ID() && e.Type == r.Type &&
			(e.EndDate == nil || e.EndDate.After(r.StartDate)) {
			recordWriteConflict("duplicate_relation")
			return relation.Relation{}, newServiceError(http.StatusConflict, CodeRelationExists,
				fmt.Sprintf("an active %s relation already exists for this pair", r.Type), nil)
		}
	}
	return s.store.CreateRelation(ctx, r)
}

func (s *MembershipService) checkRelation(ctx context.Context, sup, sub membership.Membership, typ relation.Type, at time.Time) error {
	if sup.ID() == sub.ID() {
		return newServiceError(http.StatusUnprocessableEntity, CodeSelfSupervision, "a membership cannot supervise itself", nil)
	}
	for _, m := range []membership.Membership{sup, sub} {
		if !m.IsActiveAt(at) {
			return newServiceError(http.StatusUnprocessableEntity, CodeMembershipInactive,
				fmt.Sprintf("membership %s is not active at %s", m.ID(), at.Format(time.RFC3339)), nil)
		}
	}
	if sup.UnitID() != sub.UnitID() {
		return newServiceError(http.StatusUnprocessableEntity, CodeCrossUnitRelation,
			"supervisor and subordinate belong to different units", nil)
	}
	u, err := s.store.GetUnit(ctx, sub.UnitID())
	if err != nil {
		return err
	}
	types, err := s.store.ListPositionTypes(ctx)
	if err != nil {
		return err
	}
	h := position.NewHierarchy(types, u.Type)

	var supType position.PositionType
	for _, t := range types {
		if t.Code == sup.PositionCode() {
			supType = t
		}
	}
	if !supType.CanSupervise {
		return newServiceError(http.StatusUnprocessableEntity, CodeCannotSupervise,
			fmt.Sprintf("position %s cannot supervise", sup.PositionCode()), nil)
	}
	if !typ.CarriesCommission() {
		return nil
	}
	supLevel, supOK := h.Level(sup.PositionCode())
	subLevel, subOK := h.Level(sub.PositionCode())
	if !supOK || !subOK || supLevel >= subLevel {
		return newServiceError(http.StatusUnprocessableEntity, CodeInvalidHierarchyLevel,
			fmt.Sprintf("%s is not more senior than %s", sup.PositionCode(), sub.PositionCode()), nil)
	}
	if typ == relation.TypeDirect {
		if !supType.CanHaveDirectReports {
			return newServiceError(http.StatusUnprocessableEntity, CodeCannotSupervise,
				fmt.Sprintf("position %s cannot have direct reports", sup.PositionCode()), nil)
		}
		if subLevel-supLevel < 2 {
			return newServiceError(http.StatusUnprocessableEntity, CodeDirectRequiresSkip,
				"a DIRECT relation must skip at least one level", nil)
		}
	}
	return nil
}

func (s *MembershipService) EndRelation(ctx context.Context, id uuid.UUID, at time.Time) (_ relation.Relation, err error) {
	ctx, span := startSpan(ctx, "org.relation.end", attribute.String("relation_id", id.String()))
	defer func() {
		recordStructuralWrite("end_relation", err)
		endSpan(span, err)
	}()

	at = s.at(at)
	r, err := s.store.GetRelation(ctx, id)
	if err != nil {
		return relation.Relation{}, mapError(err)
	}
	sub, err := s.store.GetMembership(ctx, r.SubordinateID)
	if err != nil {
		return relation.Relation{}, mapError(err)
	}
	ended, err := withUnitWriteLock(ctx, s.locker, s.store, sub.UnitID(), func(txCtx context.Context) (relation.Relation, error) {
		r, err := s.store.GetRelation(txCtx, id)
		if err != nil {
			return relation.Relation{}, err
		}
		ended := r.EndAt(at)
		return ended, s.store.UpdateRelation(txCtx, ended)
	})
	if err != nil {
		return relation.Relation{}, mapError(err)
	}
	return ended, nil
}

// ReplaceSupervisor hands every active subordinate line of the old supervisor
// to the replacement and then terminates the old membership. Nothing is
// written unless every step succeeds.
func (s *MembershipService) ReplaceSupervisor(ctx context.Context, in ReplaceSupervisorInput) (_ ReplaceSupervisorResult, err error) {
	ctx, span := startSpan(ctx, "org.membership.replace_supervisor",
		attribute.String("old_membership_id", in.OldMembershipID.String()),
		attribute.String("new_membership_id", in.NewMembershipID.String()),
	)
	defer func() {
		recordStructuralWrite("replace_supervisor", err)
		endSpan(span, err)
	}()

	if err := validateInput(in); err != nil {
		return ReplaceSupervisorResult{}, err
	}
	if in.OldMembershipID == in.NewMembershipID {
		return ReplaceSupervisorResult{}, newServiceError(http.StatusUnprocessableEntity, CodeSelfSupervision,
			"replacement must be a different membership", nil)
	}
	at := s.at(in.At)

	old, err := s.store.GetMembership(ctx, in.OldMembershipID)
	if err != nil {
		return ReplaceSupervisorResult{}, mapError(err)
	}
	res, err := withUnitWriteLock(ctx, s.locker, s.store, old.UnitID(), func(txCtx context.Context) (ReplaceSupervisorResult, error) {
		var res ReplaceSupervisorResult
		old, err := s.store.GetMembership(txCtx, in.OldMembershipID)
		if err != nil {
			return res, err
		}
		replacement, err := s.store.GetMembership(txCtx, in.NewMembershipID)
		if err != nil {
			return res, err
		}
		if replacement.UnitID() != old.UnitID() {
			return res, newServiceError(http.StatusUnprocessableEntity, CodeCrossUnitRelation,
				"replacement belongs to a different unit", nil)
		}
		if !replacement.IsActiveAt(at) {
			return res, newServiceError(http.StatusUnprocessableEntity, CodeMembershipInactive,
				"replacement membership is not active", nil)
		}

		rels, err := s.store.ListRelationsByMembership(txCtx, old.ID())
		if err != nil {
			return res, err
		}
		for _, r := range rels {
			if r.SupervisorID != old.ID() || !r.IsActiveAt(at) {
				continue
			}
			ended := r.EndAt(at)
			if err := s.store.UpdateRelation(txCtx, ended); err != nil {
				return res, err
			}
			if r.SubordinateID == replacement.ID() {
				res.Ended = append(res.Ended, ended)
				continue
			}
			sub, err := s.store.GetMembership(txCtx, r.SubordinateID)
			if err != nil {
				return res, err
			}
			moved := relation.New(replacement.ID(), sub.ID(), r.Type, r.Authority, r.IsPrimary, at, r.Justification)
			created, err := s.createRelation(txCtx, replacement, sub, moved)
			if IsCode(err, CodeRelationExists) {
				res.Ended = append(res.Ended, ended)
				continue
			}
			if err != nil {
				return res, err
			}
			res.Moved = append(res.Moved, created)
		}

		res.Terminated, err = s.terminate(txCtx, old, at)
		return res, err
	})
	if err != nil {
		logWithFields(ctx, logrus.WarnLevel, "org.membership.replace_failed", logrus.Fields{
			"unit_id":           old.UnitID().String(),
			"old_membership_id": in.OldMembershipID.String(),
			"new_membership_id": in.NewMembershipID.String(),
			"error":             err.Error(),
		})
		return ReplaceSupervisorResult{}, mapError(err)
	}
	logWithFields(ctx, logrus.InfoLevel, "org.membership.supervisor_replaced", logrus.Fields{
		"unit_id":           old.UnitID().String(),
		"old_membership_id": in.OldMembershipID.String(),
		"new_membership_id": in.NewMembershipID.String(),
		"moved":             len(res.Moved),
		"ended":             len(res.Ended),
	})
	return res, nil
}
