package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/commission"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/membership"
	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/relation"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
)

const (
	ReasonSeller            = "SELLER"
	ReasonNormalSupervision = "NORMAL_SUPERVISION"
	ReasonDirectSupervision = "DIRECT_SUPERVISION"
)

var hundred = decimal.NewFromInt(100)

type CalculateInput struct {
	SaleAmount         decimal.Decimal
	SellerMembershipID uuid.UUID `validate:"required"`
	// Empty means SALES.
	CommissionType commission.Type
	// Zero means now.
	AsOf time.Time
}

type Share struct {
	UserID           uuid.UUID       `json:"user_id"`
	UserDisplayName  string          `json:"user_display_name"`
	MembershipID     uuid.UUID       `json:"membership_id"`
	PositionCode     position.Code   `json:"position_code"`
	Percentage       decimal.Decimal `json:"percentage"`
	Amount           decimal.Decimal `json:"amount"`
	Reason           string          `json:"reason"`
	RelationType     *relation.Type  `json:"relation_type,omitempty"`
	PositionsCovered []position.Code `json:"positions_covered"`
}

type Distribution struct {
	SaleAmount      decimal.Decimal `json:"sale_amount"`
	UnitID          uuid.UUID       `json:"unit_id"`
	StructureID     uuid.UUID       `json:"structure_id"`
	AsOf            time.Time       `json:"as_of"`
	Shares          []Share         `json:"shares"`
	TotalPercentage decimal.Decimal `json:"total_percentage"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Truncated       bool            `json:"truncated"`
	Warnings        []string        `json:"warnings,omitempty"`
}

// ByUser returns the amount owed to each user.
func (d *Distribution) ByUser() map[uuid.UUID]decimal.Decimal {
	out := make(map[uuid.UUID]decimal.Decimal, len(d.Shares))
	for _, s := range d.Shares {
		out[s.UserID] = s.Amount
	}
	return out
}

func (d *Distribution) ShareFor(userID uuid.UUID) (Share, bool) {
	for _, s := range d.Shares {
		if s.UserID == userID {
			return s, true
		}
	}
	return Share{}, false
}

type CommissionCalculator struct {
	store  Store
	locker UnitLocker
	opts   Options
}

func NewCommissionCalculator(store Store, locker UnitLocker, opts Options) *CommissionCalculator {
	return &CommissionCalculator{store: store, locker: locker, opts: opts.normalized()}
}

// GetCommissionPreview has the same contract as CalculateDistribution; it
// exists for callers that only display the split.
func (c *CommissionCalculator) GetCommissionPreview(ctx context.Context, in CalculateInput) (*Distribution, error) {
	return c.CalculateDistribution(ctx, in)
}

// CalculateDistribution splits one sale along the seller's supervision chain.
// It never returns a partial distribution together with an error.
func (c *CommissionCalculator) CalculateDistribution(ctx context.Context, in CalculateInput) (_ *Distribution, err error) {
	ctx, span := startSpan(ctx, "org.commission.calculate",
		attribute.String("seller_membership_id", in.SellerMembershipID.String()),
	)
	defer func() { endSpan(span, err) }()

	if err := validateInput(in); err != nil {
		recordCommissionCalculation("invalid")
		return nil, err
	}
	if in.SaleAmount.IsNegative() {
		recordCommissionCalculation("invalid")
		return nil, newServiceError(http.StatusBadRequest, CodeInvalidBody, "sale amount must not be negative", nil)
	}
	if in.CommissionType == "" {
		in.CommissionType = commission.TypeSales
	}
	if in.AsOf.IsZero() {
		in.AsOf = c.opts.Now()
	}
	in.AsOf = in.AsOf.UTC()

	seller, err := c.store.GetMembership(ctx, in.SellerMembershipID)
	if err != nil {
		recordCommissionCalculation("error")
		return nil, mapError(err)
	}

	d, err := withUnitReadLock(ctx, c.locker, c.store, seller.UnitID(), func(txCtx context.Context) (*Distribution, error) {
		g, err := loadGraph(txCtx, c.store, seller.UnitID(), in.AsOf)
		if err != nil {
			return nil, err
		}
		return c.distribute(txCtx, g, in)
	})
	if err != nil {
		var svcErr *ServiceError
		if errors.As(mapError(err), &svcErr) {
			switch svcErr.Code {
			case CodeNoCommissionStructure:
				recordCommissionCalculation("no_structure")
			case CodeCircularReporting, CodeChainTooDeep:
				recordCommissionCalculation("refused")
			default:
				recordCommissionCalculation("error")
			}
		} else {
			recordCommissionCalculation("error")
		}
		return nil, mapError(err)
	}
	if d.Truncated {
		recordCommissionCalculation("partial")
	} else {
		recordCommissionCalculation("ok")
	}
	return d, nil
}

type shareBuilder struct {
	shares []*Share
	byUser map[uuid.UUID]*Share
}

func (b *shareBuilder) add(m membership.Membership, pct decimal.Decimal, codes []position.Code, reason string, relType *relation.Type) {
	if s, ok := b.byUser[m.UserID()]; ok {
		s.Percentage = s.Percentage.Add(pct)
		s.PositionsCovered = append(s.PositionsCovered, codes...)
		s.Reason = s.Reason + "+" + reason
		return
	}
	s := &Share{
		UserID:           m.UserID(),
		UserDisplayName:  m.UserDisplayName(),
		MembershipID:     m.ID(),
		PositionCode:     m.PositionCode(),
		Percentage:       pct,
		Reason:           reason,
		RelationType:     relType,
		PositionsCovered: append([]position.Code(nil), codes...),
	}
	b.shares = append(b.shares, s)
	b.byUser[m.UserID()] = s
}

func sumPercentages(s commission.Structure, codes []position.Code) decimal.Decimal {
	total := decimal.Zero
	for _, code := range codes {
		total = total.Add(s.PercentageFor(code).Decimal())
	}
	return total
}

func (c *CommissionCalculator) distribute(ctx context.Context, g *Graph, in CalculateInput) (*Distribution, error) {
	seller, ok := g.membership(in.SellerMembershipID)
	if !ok {
		return nil, newServiceError(http.StatusNotFound, CodeMembershipNotFound, "seller membership not found", nil)
	}
	if !seller.IsActiveAt(in.AsOf) {
		return nil, newServiceError(http.StatusUnprocessableEntity, CodeMembershipInactive, "seller membership is not active", nil)
	}
	structure, ok := commission.ActiveAt(g.structures, in.CommissionType, in.AsOf)
	if !ok {
		logWithFields(ctx, logrus.WarnLevel, "org.commission.no_structure", logrus.Fields{
			"unit_id":         g.unit.ID.String(),
			"commission_type": string(in.CommissionType),
		})
		return nil, newServiceError(http.StatusUnprocessableEntity, CodeNoCommissionStructure,
			fmt.Sprintf("no active %s commission structure for unit %s", in.CommissionType, g.unit.Code), nil)
	}
	sellerLevel, ok := g.level(seller)
	if !ok {
		return nil, newServiceError(http.StatusUnprocessableEntity, CodePositionNotApplicable,
			fmt.Sprintf("position %s does not apply to unit type %s", seller.PositionCode(), g.unit.Type), nil)
	}

	b := &shareBuilder{byUser: map[uuid.UUID]*Share{}}
	sellerCodes := g.hierarchy.AtOrBelow(sellerLevel)
	b.add(seller, sumPercentages(structure, sellerCodes), sellerCodes, ReasonSeller, nil)

	d := &Distribution{
		SaleAmount:  in.SaleAmount,
		UnitID:      g.unit.ID,
		StructureID: structure.ID(),
		AsOf:        in.AsOf,
	}

	visited := map[uuid.UUID]struct{}{seller.ID(): {}}
	cur, curLevel := seller, sellerLevel
	var walkErr *ServiceError
	for steps := 0; ; steps++ {
		rel, ok := g.commissionSupervisor(cur.ID())
		if !ok {
			break
		}
		if steps >= c.opts.MaxChainDepth {
			walkErr = newServiceError(http.StatusConflict, CodeChainTooDeep,
				fmt.Sprintf("supervision chain exceeds %d levels", c.opts.MaxChainDepth), nil)
			break
		}
		sup, _ := g.membership(rel.SupervisorID)
		if !g.inUnit(sup.ID()) {
			d.Warnings = append(d.Warnings, fmt.Sprintf("chain leaves unit %s at membership %s", g.unit.Code, sup.ID()))
			break
		}
		if _, seen := visited[sup.ID()]; seen {
			walkErr = newServiceError(http.StatusConflict, CodeCircularReporting,
				fmt.Sprintf("supervision chain of membership %s revisits membership %s", seller.ID(), sup.ID()), nil)
			break
		}
		visited[sup.ID()] = struct{}{}

		codes := []position.Code{sup.PositionCode()}
		supLevel, known := g.level(sup)
		if rel.Type == relation.TypeDirect && known {
			codes = append(codes, g.hierarchy.StrictlyBetween(supLevel, min(curLevel, sellerLevel))...)
		}
		reason := ReasonNormalSupervision
		if rel.Type == relation.TypeDirect {
			reason = ReasonDirectSupervision
		}
		relType := rel.Type
		b.add(sup, sumPercentages(structure, codes), codes, reason, &relType)

		cur = sup
		if known {
			curLevel = supLevel
		}
	}

	if walkErr != nil {
		fields := logrus.Fields{
			"unit_id":              g.unit.ID.String(),
			"seller_membership_id": seller.ID().String(),
			"code":                 walkErr.Code,
			"policy":               string(c.opts.CyclePolicy),
		}
		if c.opts.CyclePolicy != CyclePolicyPartial {
			logWithFields(ctx, logrus.WarnLevel, "org.commission.refused", fields)
			return nil, walkErr
		}
		logWithFields(ctx, logrus.WarnLevel, "org.commission.truncated", fields)
		d.Truncated = true
		d.Warnings = append(d.Warnings, walkErr.Message)
	}

	d.TotalPercentage = decimal.Zero
	d.TotalAmount = decimal.Zero
	for _, s := range b.shares {
		s.Amount = in.SaleAmount.Mul(s.Percentage).Div(hundred).Round(2)
		sort.SliceStable(s.PositionsCovered, func(i, j int) bool {
			li, _ := g.hierarchy.Level(s.PositionsCovered[i])
			lj, _ := g.hierarchy.Level(s.PositionsCovered[j])
			return li < lj
		})
		d.Shares = append(d.Shares, *s)
		d.TotalPercentage = d.TotalPercentage.Add(s.Percentage)
		d.TotalAmount = d.TotalAmount.Add(s.Amount)
	}
	return d, nil
}
