package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/commission"
	"github.com/iota-uz/salesorg/modules/org/services"
)

type previewOptions struct {
	membershipID uuid.UUID
	userID       uuid.UUID
	unitCode     string
	amount       decimal.Decimal
	typ          commission.Type
	asOf         time.Time
}

type previewShare struct {
	services.Share
	Display string `json:"display"`
}

// previewLine shadows the distribution's shares with their rendered form.
type previewLine struct {
	*services.Distribution
	Currency     string         `json:"currency"`
	Shares       []previewShare `json:"shares"`
	TotalDisplay string         `json:"total_display"`
}

func newPreviewCmd(g *globalOptions) *cobra.Command {
	var opts previewOptions
	var membership, user, amount, typ, asOf string

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show how a sale would be split along the seller's supervision chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), g, "preview")
			if err != nil {
				return err
			}
			defer a.Close()

			currency := money.GetCurrency(a.conf.Org.CommissionCurrency)
			if currency == nil {
				return withCode(exitUsage, fmt.Errorf("unknown ORG_COMMISSION_CURRENCY %q", a.conf.Org.CommissionCurrency))
			}

			sellerID := opts.membershipID
			if sellerID == uuid.Nil {
				u, err := a.org.Directory.GetUnitByCode(a.ctx, opts.unitCode)
				if err != nil {
					return serviceExit(err)
				}
				m, err := a.org.Members.ActiveMembership(a.ctx, opts.userID, u.ID)
				if err != nil {
					return serviceExit(err)
				}
				sellerID = m.ID()
			}

			d, err := a.org.Calculator.GetCommissionPreview(a.ctx, services.CalculateInput{
				SaleAmount:         opts.amount,
				SellerMembershipID: sellerID,
				CommissionType:     opts.typ,
				AsOf:               opts.asOf,
			})
			if err != nil {
				return serviceExit(err)
			}
			return writeJSONLine(cmd.OutOrStdout(), renderPreview(d, currency))
		},
	}

	cmd.Flags().StringVar(&membership, "membership", "", "Seller membership UUID")
	cmd.Flags().StringVar(&user, "user", "", "Seller user UUID (with --unit)")
	cmd.Flags().StringVar(&opts.unitCode, "unit", "", "Unit code (with --user)")
	cmd.Flags().StringVar(&amount, "amount", "", "Sale amount (required)")
	cmd.Flags().StringVar(&typ, "type", string(commission.TypeSales), "Commission type")
	cmd.Flags().StringVar(&asOf, "as-of", "", "Evaluate the hierarchy at this time (RFC3339 or YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("amount")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		d, err := decimal.NewFromString(stringsTrim(amount))
		if err != nil {
			return withCode(exitUsage, fmt.Errorf("invalid --amount: %w", err))
		}
		opts.amount = d
		opts.typ = commission.Type(strings.ToUpper(stringsTrim(typ)))

		if stringsTrim(asOf) != "" {
			t, err := parseAsOf(asOf)
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("invalid --as-of: %w", err))
			}
			opts.asOf = t
		}

		switch {
		case stringsTrim(membership) != "":
			id, err := uuid.Parse(stringsTrim(membership))
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("invalid --membership: %w", err))
			}
			opts.membershipID = id
		case stringsTrim(user) != "" && stringsTrim(opts.unitCode) != "":
			id, err := uuid.Parse(stringsTrim(user))
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("invalid --user: %w", err))
			}
			opts.userID = id
		default:
			return withCode(exitUsage, fmt.Errorf("either --membership or --user with --unit is required"))
		}
		return nil
	}
	return cmd
}

// toMoney rounds to the currency's minor unit.
func toMoney(amount decimal.Decimal, currency *money.Currency) *money.Money {
	minor := amount.Shift(int32(currency.Fraction)).Round(0).IntPart()
	return money.New(minor, currency.Code)
}

func renderPreview(d *services.Distribution, currency *money.Currency) previewLine {
	line := previewLine{
		Currency:     currency.Code,
		Distribution: d,
		Shares:       make([]previewShare, 0, len(d.Shares)),
		TotalDisplay: toMoney(d.TotalAmount, currency).Display(),
	}
	for _, s := range d.Shares {
		line.Shares = append(line.Shares, previewShare{Share: s, Display: toMoney(s.Amount, currency).Display()})
	}
	return line
}
