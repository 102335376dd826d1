package services

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/relation"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
)

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}

func TestCalculateDistribution_NormalChainCoversEveryPositionOnce(t *testing.T) {
	f := newFixture(t)
	c := f.normalChain()
	f.setStructure(defaultTable)

	d, err := f.calc.CalculateDistribution(f.ctx, CalculateInput{
		SaleAmount:         decimal.RequireFromString("1000"),
		SellerMembershipID: c.agent.ID(),
	})
	require.NoError(t, err)
	require.Len(t, d.Shares, 4)
	require.False(t, d.Truncated)
	requireDecimal(t, "80", d.TotalPercentage)
	requireDecimal(t, "800", d.TotalAmount)

	byUser := d.ByUser()
	requireDecimal(t, "500", byUser[c.agent.UserID()])
	requireDecimal(t, "150", byUser[c.lead.UserID()])
	requireDecimal(t, "100", byUser[c.supervisor.UserID()])
	requireDecimal(t, "50", byUser[c.manager.UserID()])

	seller, ok := d.ShareFor(c.agent.UserID())
	require.True(t, ok)
	require.Equal(t, ReasonSeller, seller.Reason)
	require.Nil(t, seller.RelationType)

	lead, ok := d.ShareFor(c.lead.UserID())
	require.True(t, ok)
	require.Equal(t, ReasonNormalSupervision, lead.Reason)
	require.Equal(t, []position.Code{position.CodeTeamLead}, lead.PositionsCovered)
}

func TestCalculateDistribution_SellerAbsorbsJuniorLevels(t *testing.T) {
	f := newFixture(t)
	c := f.normalChain()
	f.setStructure(defaultTable)

	d, err := f.calc.CalculateDistribution(f.ctx, CalculateInput{
		SaleAmount:         decimal.RequireFromString("200"),
		SellerMembershipID: c.lead.ID(),
	})
	require.NoError(t, err)
	require.Len(t, d.Shares, 3)

	lead, ok := d.ShareFor(c.lead.UserID())
	require.True(t, ok)
	requireDecimal(t, "65", lead.Percentage)
	requireDecimal(t, "130", lead.Amount)
	require.Equal(t, []position.Code{position.CodeTeamLead, position.CodeAgent}, lead.PositionsCovered)
	_, agentPaid := d.ShareFor(c.agent.UserID())
	require.False(t, agentPaid)
}

func TestCalculateDistribution_DirectAbsorbsSkippedLevels(t *testing.T) {
	f := newFixture(t)
	c := f.normalChain()
	f.relate(c.manager, c.agent, relation.TypeDirect)
	f.setStructure(defaultTable)

	d, err := f.calc.CalculateDistribution(f.ctx, CalculateInput{
		SaleAmount:         decimal.RequireFromString("1000"),
		SellerMembershipID: c.agent.ID(),
	})
	require.NoError(t, err)
	require.Len(t, d.Shares, 2)

	manager, ok := d.ShareFor(c.manager.UserID())
	require.True(t, ok)
	require.Equal(t, ReasonDirectSupervision, manager.Reason)
	require.NotNil(t, manager.RelationType)
	require.Equal(t, relation.TypeDirect, *manager.RelationType)
	requireDecimal(t, "30", manager.Percentage)
	requireDecimal(t, "300", manager.Amount)
	require.Equal(t,
		[]position.Code{position.CodeManager, position.CodeSupervisor, position.CodeTeamLead},
		manager.PositionsCovered)

	_, leadPaid := d.ShareFor(c.lead.UserID())
	require.False(t, leadPaid)
	_, supervisorPaid := d.ShareFor(c.supervisor.UserID())
	require.False(t, supervisorPaid)
	requireDecimal(t, "80", d.TotalPercentage)
}

func TestCalculateDistribution_DirectHigherUpTheChain(t *testing.T) {
	f := newFixture(t)
	manager := f.member("Mara", position.CodeManager)
	lead := f.member("Lee", position.CodeTeamLead)
	agent := f.member("Ana", position.CodeAgent)
	f.relate(lead, agent, relation.TypeNormal)
	f.relate(manager, lead, relation.TypeDirect)
	f.setStructure(defaultTable)

	d, err := f.calc.CalculateDistribution(f.ctx, CalculateInput{
		SaleAmount:         decimal.RequireFromString("1000"),
		SellerMembershipID: agent.ID(),
	})
	require.NoError(t, err)
	require.Len(t, d.Shares, 3)

	byUser := d.ByUser()
	requireDecimal(t, "500", byUser[agent.UserID()])
	requireDecimal(t, "150", byUser[lead.UserID()])
	requireDecimal(t, "150", byUser[manager.UserID()])
	requireDecimal(t, "80", d.TotalPercentage)
}

func TestCalculateDistribution_MissingCodeCountsAsZero(t *testing.T) {
	f := newFixture(t)
	c := f.normalChain()
	f.setStructure(map[string]string{"MANAGER": "5", "SUPERVISOR": "10", "AGENT": "50"})

	d, err := f.calc.CalculateDistribution(f.ctx, CalculateInput{
		SaleAmount:         decimal.RequireFromString("100"),
		SellerMembershipID: c.agent.ID(),
	})
	require.NoError(t, err)
	require.Len(t, d.Shares, 4)

	lead, ok := d.ShareFor(c.lead.UserID())
	require.True(t, ok)
	require.True(t, lead.Percentage.IsZero())
	require.True(t, lead.Amount.IsZero())
	requireDecimal(t, "65", d.TotalPercentage)
}

func TestCalculateDistribution_RoundsToCents(t *testing.T) {
	f := newFixture(t)
	c := f.normalChain()
	f.setStructure(defaultTable)

	d, err := f.calc.CalculateDistribution(f.ctx, CalculateInput{
		SaleAmount:         decimal.RequireFromString("333.33"),
		SellerMembershipID: c.agent.ID(),
	})
	require.NoError(t, err)
	requireDecimal(t, "166.67", d.ByUser()[c.agent.UserID()])
	requireDecimal(t, "16.67", d.ByUser()[c.manager.UserID()])
}

func TestCalculateDistribution_NoStructureIsAnError(t *testing.T) {
	f := newFixture(t)
	c := f.normalChain()

	d, err := f.calc.CalculateDistribution(f.ctx, CalculateInput{
		SaleAmount:         decimal.RequireFromString("1000"),
		SellerMembershipID: c.agent.ID(),
	})
	require.Nil(t, d)
	requireCode(t, err, http.StatusUnprocessableEntity, CodeNoCommissionStructure)

	preview, err := f.calc.GetCommissionPreview(f.ctx, CalculateInput{
		SaleAmount:         decimal.RequireFromString("1000"),
		SellerMembershipID: c.agent.ID(),
	})
	require.Nil(t, preview)
	requireCode(t, err, http.StatusUnprocessableEntity, CodeNoCommissionStructure)
}

func TestCalculateDistribution_RejectsInactiveSeller(t *testing.T) {
	f := newFixture(t)
	c := f.normalChain()
	f.setStructure(defaultTable)
	_, err := f.members.SuspendMembership(f.ctx, c.agent.ID())
	require.NoError(t, err)

	_, err = f.calc.CalculateDistribution(f.ctx, CalculateInput{
		SaleAmount:         decimal.RequireFromString("1000"),
		SellerMembershipID: c.agent.ID(),
	})
	requireCode(t, err, http.StatusUnprocessableEntity, CodeMembershipInactive)
}

func TestCalculateDistribution_SkipsSuspendedSupervisor(t *testing.T) {
	f := newFixture(t)
	c := f.normalChain()
	f.setStructure(defaultTable)
	_, err := f.members.SuspendMembership(f.ctx, c.lead.ID())
	require.NoError(t, err)

	d, err := f.calc.CalculateDistribution(f.ctx, CalculateInput{
		SaleAmount:         decimal.RequireFromString("1000"),
		SellerMembershipID: c.agent.ID(),
	})
	require.NoError(t, err)
	require.Len(t, d.Shares, 1)
}

func TestCalculateDistribution_CycleRefusedByDefault(t *testing.T) {
	f := newFixture(t)
	c := f.loopedChain()

	d, err := f.calc.CalculateDistribution(f.ctx, CalculateInput{
		SaleAmount:         decimal.RequireFromString("1000"),
		SellerMembershipID: c.agent.ID(),
	})
	require.Nil(t, d)
	requireCode(t, err, http.StatusConflict, CodeCircularReporting)
}

func TestCalculateDistribution_CyclePartialPolicyTruncates(t *testing.T) {
	f := newFixture(t, withOptions(func(o *Options) { o.CyclePolicy = CyclePolicyPartial }))
	c := f.loopedChain()

	d, err := f.calc.CalculateDistribution(f.ctx, CalculateInput{
		SaleAmount:         decimal.RequireFromString("1000"),
		SellerMembershipID: c.agent.ID(),
	})
	require.NoError(t, err)
	require.True(t, d.Truncated)
	require.NotEmpty(t, d.Warnings)
	require.Len(t, d.Shares, 3)
	requireDecimal(t, "75", d.TotalPercentage)
}

func TestCalculateDistribution_DepthCapAllowsExactDepth(t *testing.T) {
	f := newFixture(t, withOptions(func(o *Options) { o.MaxChainDepth = 3 }))
	c := f.normalChain()
	f.setStructure(defaultTable)

	d, err := f.calc.CalculateDistribution(f.ctx, CalculateInput{
		SaleAmount:         decimal.RequireFromString("1000"),
		SellerMembershipID: c.agent.ID(),
	})
	require.NoError(t, err)
	require.Len(t, d.Shares, 4)
}

func TestCalculateDistribution_DepthCap(t *testing.T) {
	f := newFixture(t, withOptions(func(o *Options) { o.MaxChainDepth = 2 }))
	c := f.normalChain()
	f.setStructure(defaultTable)

	_, err := f.calc.CalculateDistribution(f.ctx, CalculateInput{
		SaleAmount:         decimal.RequireFromString("1000"),
		SellerMembershipID: c.agent.ID(),
	})
	requireCode(t, err, http.StatusConflict, CodeChainTooDeep)
}

func TestCalculateDistribution_IgnoresMatrixLines(t *testing.T) {
	f := newFixture(t)
	manager := f.member("Mara", position.CodeManager)
	agent := f.member("Ana", position.CodeAgent)
	f.relate(manager, agent, relation.TypeMatrix)
	f.setStructure(defaultTable)

	d, err := f.calc.CalculateDistribution(f.ctx, CalculateInput{
		SaleAmount:         decimal.RequireFromString("1000"),
		SellerMembershipID: agent.ID(),
	})
	require.NoError(t, err)
	require.Len(t, d.Shares, 1)
}

func TestCalculateDistribution_StopsAtUnitBoundary(t *testing.T) {
	f := newFixture(t)
	other := f.newUnit("SALES_SOUTH", "South")
	foreign := f.memberIn(other, "Fay", position.CodeManager)
	agent := f.member("Ana", position.CodeAgent)
	f.forceRelate(foreign, agent, relation.TypeNormal, true)
	f.setStructure(defaultTable)

	d, err := f.calc.CalculateDistribution(f.ctx, CalculateInput{
		SaleAmount:         decimal.RequireFromString("1000"),
		SellerMembershipID: agent.ID(),
	})
	require.NoError(t, err)
	require.Len(t, d.Shares, 1)
	require.NotEmpty(t, d.Warnings)
}

func TestCalculateDistribution_RejectsNegativeAmount(t *testing.T) {
	f := newFixture(t)
	agent := f.member("Ana", position.CodeAgent)

	_, err := f.calc.CalculateDistribution(f.ctx, CalculateInput{
		SaleAmount:         decimal.RequireFromString("-1"),
		SellerMembershipID: agent.ID(),
	})
	requireCode(t, err, http.StatusBadRequest, CodeInvalidBody)
}
