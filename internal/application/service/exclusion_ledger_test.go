package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
)

func TestExcludeItemSurvivesRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for _, cp := range []string{"S1", "S2"} {
		require.NoError(t, env.ops.RecordSale(ctx, testOwner, cp, "A-"+cp, 1, now.AddDate(0, 0, -1)))
	}
	m := newMaterializer(env, WatchlistLimits{}, now)
	_, err := m.Refresh(ctx, testOwner)
	require.NoError(t, err)

	items, _ := env.items.ListActive(ctx, testOwner)
	require.Len(t, items, 2)
	target := items[0]

	ledger := NewExclusionLedger(env.excl, env.items)
	require.NoError(t, ledger.ExcludeItem(ctx, testOwner, target.ID, "damaged stock"))

	items, _ = env.items.ListActive(ctx, testOwner)
	assert.Len(t, items, 1)
	row, err := env.items.Get(ctx, testOwner, target.ID)
	require.NoError(t, err)
	assert.False(t, row.IsActive, "excluded row is kept for audit")

	res, err := m.Refresh(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Skipped)

	excl, err := ledger.ListItemExclusions(ctx, testOwner)
	require.NoError(t, err)
	require.Len(t, excl, 1)
	assert.Equal(t, target.CounterpartID, excl[0].CounterpartID)

	// the row was replaced by the refresh; restore only clears the record
	require.NoError(t, ledger.RestoreItem(ctx, testOwner, target.ID))
	assert.ErrorIs(t, ledger.RestoreItem(ctx, testOwner, target.ID), port.ErrNotFound)

	res, err = m.Refresh(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
}

func TestRestoreItemReactivatesRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedItems(t, testOwner, 2)
	items, _ := env.items.ListActive(ctx, testOwner)

	ledger := NewExclusionLedger(env.excl, env.items)
	require.NoError(t, ledger.ExcludeItem(ctx, testOwner, items[1].ID, ""))
	require.NoError(t, ledger.RestoreItem(ctx, testOwner, items[1].ID))

	active, _ := env.items.ListActive(ctx, testOwner)
	assert.Len(t, active, 2)

	assert.ErrorIs(t, ledger.ExcludeItem(ctx, testOwner, 12345, ""), port.ErrNotFound)
}

func TestExcludeListingValidation(t *testing.T) {
	env := newTestEnv(t)
	ledger := NewExclusionLedger(env.excl, env.items)
	ctx := context.Background()

	assert.ErrorIs(t, ledger.ExcludeListing(ctx, testOwner, " ", "set-1", ""), ErrInvalidArgument)
	assert.ErrorIs(t, ledger.RestoreListing(ctx, testOwner, "missing"), port.ErrNotFound)

	require.NoError(t, ledger.ExcludeListing(ctx, testOwner, "L1", "set-1", "fake"))
	list, err := ledger.ListListingExclusions(ctx, testOwner, "set-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.ListingExclusion{
		OwnerID: testOwner, ListingID: "L1", CounterpartID: "set-1", Reason: "fake", ExcludedAt: list[0].ExcludedAt,
	}, list[0])
}

type failingExclusions struct {
	port.ExclusionRepository
	err error
}

func (f failingExclusions) AddItem(context.Context, model.ItemExclusion) error { return f.err }

type failingDeactivate struct {
	port.TrackedItemRepository
	err error
}

func (f failingDeactivate) SetActive(ctx context.Context, owner string, id int64, active bool) error {
	if !active {
		return f.err
	}
	return f.TrackedItemRepository.SetActive(ctx, owner, id, active)
}

func TestExcludeItemRecordFailureKeepsItemActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedItems(t, testOwner, 2)
	items, _ := env.items.ListActive(ctx, testOwner)

	boom := errors.New("disk full")
	ledger := NewExclusionLedger(failingExclusions{ExclusionRepository: env.excl, err: boom}, env.items)
	assert.ErrorIs(t, ledger.ExcludeItem(ctx, testOwner, items[0].ID, "damaged"), boom)

	row, err := env.items.Get(ctx, testOwner, items[0].ID)
	require.NoError(t, err)
	assert.True(t, row.IsActive)
	active, _ := env.items.ListActive(ctx, testOwner)
	assert.Len(t, active, 2)
}

func TestExcludeItemDeactivateFailureWithdrawsRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedItems(t, testOwner, 2)
	items, _ := env.items.ListActive(ctx, testOwner)

	boom := errors.New("database is locked")
	ledger := NewExclusionLedger(env.excl, failingDeactivate{TrackedItemRepository: env.items, err: boom})
	assert.ErrorIs(t, ledger.ExcludeItem(ctx, testOwner, items[0].ID, "damaged"), boom)

	excl, err := env.excl.ListItems(ctx, testOwner)
	require.NoError(t, err)
	assert.Empty(t, excl)
	active, _ := env.items.ListActive(ctx, testOwner)
	assert.Len(t, active, 2)
}
