package persistence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/membership"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
	"github.com/iota-uz/salesorg/modules/org/domain/entities/unit"
	"github.com/iota-uz/salesorg/modules/org/infrastructure/persistence"
)

var errBoom = errors.New("boom")

func seedUnit(t *testing.T, ctx context.Context, store *persistence.MemoryStore) unit.Unit {
	t.Helper()
	for _, p := range position.DefaultSalesPositions() {
		_, err := store.CreatePositionType(ctx, p)
		require.NoError(t, err)
	}
	u, err := store.CreateUnit(ctx, unit.New("SALES_A", "Team A", unit.TypeSales, nil, ""))
	require.NoError(t, err)
	return u
}

func TestMemoryStore_InTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	u := seedUnit(t, ctx, store)

	err := store.InTx(ctx, func(txCtx context.Context) error {
		_, err := store.CreateMembership(txCtx, membership.New(uuid.New(), "Ana", u.ID, position.CodeAgent, time.Now(), "", ""))
		require.NoError(t, err)

		inTx, err := store.ListMembershipsByUnit(txCtx, u.ID)
		require.NoError(t, err)
		require.Len(t, inTx, 1)

		outside, err := store.ListMembershipsByUnit(ctx, u.ID)
		require.NoError(t, err)
		require.Empty(t, outside, "uncommitted writes must not leak")
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	got, err := store.ListMembershipsByUnit(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestMemoryStore_NestedTxActsAsSavepoint(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	u := seedUnit(t, ctx, store)

	err := store.InTx(ctx, func(txCtx context.Context) error {
		_, err := store.CreateMembership(txCtx, membership.New(uuid.New(), "kept", u.ID, position.CodeAgent, time.Now(), "", ""))
		require.NoError(t, err)

		inner := store.InTx(txCtx, func(innerCtx context.Context) error {
			_, err := store.CreateMembership(innerCtx, membership.New(uuid.New(), "dropped", u.ID, position.CodeAgent, time.Now(), "", ""))
			require.NoError(t, err)
			return errBoom
		})
		require.ErrorIs(t, inner, errBoom)
		return nil
	})
	require.NoError(t, err)

	got, err := store.ListMembershipsByUnit(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "kept", got[0].UserDisplayName())
}

func TestMemoryStore_OneActiveMembershipPerUserAndUnit(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	u := seedUnit(t, ctx, store)
	userID := uuid.New()

	first, err := store.CreateMembership(ctx, membership.New(userID, "Ana", u.ID, position.CodeAgent, time.Now(), "", ""))
	require.NoError(t, err)

	_, err = store.CreateMembership(ctx, membership.New(userID, "Ana", u.ID, position.CodeTeamLead, time.Now(), "", ""))
	require.ErrorIs(t, err, membership.ErrActiveExists)

	terminated, err := first.Terminate(time.Now())
	require.NoError(t, err)
	require.NoError(t, store.UpdateMembership(ctx, terminated))

	_, err = store.CreateMembership(ctx, membership.New(userID, "Ana", u.ID, position.CodeTeamLead, time.Now(), "", ""))
	require.NoError(t, err)
}

func TestMemoryStore_NotFoundSentinels(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()

	_, err := store.GetUnit(ctx, uuid.New())
	require.ErrorIs(t, err, unit.ErrNotFound)
	_, err = store.GetUnitByCode(ctx, "nope")
	require.ErrorIs(t, err, unit.ErrNotFound)
	_, err = store.GetMembership(ctx, uuid.New())
	require.ErrorIs(t, err, membership.ErrNotFound)
	_, err = store.GetPositionType(ctx, position.CodeAgent)
	require.ErrorIs(t, err, position.ErrNotFound)
}

func TestMemoryStore_DuplicateUnit(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	seedUnit(t, ctx, store)

	_, err := store.CreateUnit(ctx, unit.New("SALES_A", "Other", unit.TypeSales, nil, ""))
	require.ErrorIs(t, err, unit.ErrDuplicate)
	_, err = store.CreateUnit(ctx, unit.New("SALES_B", "team a", unit.TypeSales, nil, ""))
	require.ErrorIs(t, err, unit.ErrDuplicate)
}
