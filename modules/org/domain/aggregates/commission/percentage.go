package commission

import (
	gerrors "github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPercentage = gerrors.New("percentage must be between 0 and 100 with at most two decimals")

	hundred = decimal.NewFromInt(100)
)

// Percentage is a commission share in [0, 100] with two-decimal precision.
type Percentage struct {
	value decimal.Decimal
}

func NewPercentage(d decimal.Decimal) (Percentage, error) {
	if d.IsNegative() || d.GreaterThan(hundred) || !d.Equal(d.Truncate(2)) {
		return Percentage{}, gerrors.Wrapf(ErrInvalidPercentage, "got %s", d.String())
	}
	return Percentage{value: d}, nil
}

func ParsePercentage(v string) (Percentage, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return Percentage{}, gerrors.Wrapf(ErrInvalidPercentage, "parse %q", v)
	}
	return NewPercentage(d)
}

func MustPercentage(v string) Percentage {
	p, err := ParsePercentage(v)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Percentage) Decimal() decimal.Decimal { return p.value }
func (p Percentage) IsZero() bool             { return p.value.IsZero() }
func (p Percentage) String() string           { return p.value.StringFixed(2) }

// Of returns the share of amount, rounded to cents.
func (p Percentage) Of(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(p.value).Div(hundred).Round(2)
}
