package commission_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/commission"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/unit"
)

func TestParsePercentage_Bounds(t *testing.T) {
	for _, ok := range []string{"0", "0.5", "12.25", "100", "100.00"} {
		_, err := commission.ParsePercentage(ok)
		require.NoError(t, err, ok)
	}
	for _, bad := range []string{"-0.01", "100.01", "1.005", "abc", ""} {
		_, err := commission.ParsePercentage(bad)
		require.ErrorIs(t, err, commission.ErrInvalidPercentage, bad)
	}
}

func TestPercentage_OfRoundsToCents(t *testing.T) {
	p := commission.MustPercentage("3.33")
	require.Equal(t, "3.33", p.Of(decimal.RequireFromString("100")).StringFixed(2))
	require.Equal(t, "0.03", p.Of(decimal.RequireFromString("1")).StringFixed(2))
	require.Equal(t, "33.35", commission.MustPercentage("6.67").Of(decimal.RequireFromString("500")).StringFixed(2))
}

func TestParseTable_RejectsUnknownCodes(t *testing.T) {
	_, err := commission.ParseTable(map[string]string{"MANAGER": "5", "DIRECTOR": "3"})
	require.ErrorIs(t, err, commission.ErrUnknownPositionCode)

	table, err := commission.ParseTable(map[string]string{"manager": "5", "AGENT": "10"})
	require.NoError(t, err)
	require.Len(t, table, 2)
	require.Equal(t, "5.00", table[position.CodeManager].String())
}

func TestNew_RejectsUnknownCode(t *testing.T) {
	_, err := commission.New(uuid.New(), "x", "", map[position.Code]commission.Percentage{
		position.Code("OWNER"): commission.MustPercentage("1"),
	}, time.Now())
	require.ErrorIs(t, err, commission.ErrUnknownPositionCode)
}

func TestStructure_PercentageForMissingCodeIsZero(t *testing.T) {
	s := mustStructure(t, map[position.Code]string{position.CodeAgent: "10"})
	require.True(t, s.PercentageFor(position.CodeManager).IsZero())
	require.Equal(t, commission.TypeSales, s.CommissionType())
}

func TestStructure_CoverageBands(t *testing.T) {
	h := position.NewHierarchy(position.DefaultSalesPositions(), unit.TypeSales)
	s := mustStructure(t, map[position.Code]string{
		position.CodeManager:    "5",
		position.CodeSupervisor: "3",
		position.CodeTeamLead:   "2",
		position.CodeAgent:      "10",
	})

	require.Equal(t, "10", s.CoverageBand(4, h).String())
	require.Equal(t, "12", s.CoverageBand(3, h).String())
	require.Equal(t, "20", s.MaxCoverageBand(h).String())
	require.False(t, s.OverAllocated(h))

	over := mustStructure(t, map[position.Code]string{
		position.CodeManager: "60",
		position.CodeAgent:   "50",
	})
	require.True(t, over.OverAllocated(h))
}

func TestStructure_EffectiveWindow(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := commission.New(uuid.New(), "base", commission.TypeSales, nil, from)
	require.NoError(t, err)

	require.False(t, s.IsEffectiveAt(from.Add(-time.Hour)))
	require.True(t, s.IsEffectiveAt(from))

	closed := s.Close(from.AddDate(0, 1, 0))
	require.True(t, closed.IsEffectiveAt(from.AddDate(0, 0, 10)))
	require.False(t, closed.IsEffectiveAt(from.AddDate(0, 1, 0)))
	require.False(t, s.Deactivate().IsEffectiveAt(from))
}

func TestActiveAt_LatestEffectiveFromWins(t *testing.T) {
	unitID := uuid.New()
	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	older, err := commission.New(unitID, "jan", commission.TypeSales, nil, jan)
	require.NoError(t, err)
	newer, err := commission.New(unitID, "mar", commission.TypeSales, nil, mar)
	require.NoError(t, err)

	got, ok := commission.ActiveAt([]commission.Structure{older, newer}, commission.TypeSales, mar.AddDate(0, 0, 1))
	require.True(t, ok)
	require.Equal(t, "mar", got.Name())

	got, ok = commission.ActiveAt([]commission.Structure{older, newer}, commission.TypeSales, jan.AddDate(0, 0, 1))
	require.True(t, ok)
	require.Equal(t, "jan", got.Name())

	_, ok = commission.ActiveAt([]commission.Structure{older}, commission.Type("BONUS"), mar)
	require.False(t, ok)
}

func mustStructure(t *testing.T, raw map[position.Code]string) commission.Structure {
	t.Helper()
	table := make(map[position.Code]commission.Percentage, len(raw))
	for k, v := range raw {
		table[k] = commission.MustPercentage(v)
	}
	s, err := commission.New(uuid.New(), "test", "", table, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return s
}
