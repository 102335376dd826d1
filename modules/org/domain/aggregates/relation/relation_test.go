package relation_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/salesorg/modules/org/domain/aggregates/relation"
)

func TestEndAt_KeepsHistory(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := relation.New(uuid.New(), uuid.New(), relation.TypeNormal, "", true, start, "")
	require.Equal(t, relation.AuthorityFull, r.Authority)
	require.True(t, r.IsActiveAt(start))

	ended := r.EndAt(start.AddDate(0, 1, 0))
	require.True(t, ended.IsActiveAt(start.AddDate(0, 0, 5)))
	require.False(t, ended.IsActiveAt(start.AddDate(0, 1, 0)))

	// ending again later does not move the end date forward
	again := ended.EndAt(start.AddDate(0, 2, 0))
	require.Equal(t, *ended.EndDate, *again.EndDate)
}

func TestCarriesCommission(t *testing.T) {
	require.True(t, relation.TypeNormal.CarriesCommission())
	require.True(t, relation.TypeDirect.CarriesCommission())
	require.False(t, relation.TypeMatrix.CarriesCommission())
	require.False(t, relation.TypeProject.CarriesCommission())
}

func TestParse(t *testing.T) {
	typ, err := relation.ParseType("direct")
	require.NoError(t, err)
	require.Equal(t, relation.TypeDirect, typ)
	_, err = relation.ParseType("dotted")
	require.Error(t, err)

	a, err := relation.ParseAuthority("")
	require.NoError(t, err)
	require.Equal(t, relation.AuthorityFull, a)
	_, err = relation.ParseAuthority("total")
	require.Error(t, err)
}
