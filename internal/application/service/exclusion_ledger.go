package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
)

// ExclusionLedger 挂单级与商品级排除；从不删除快照
type ExclusionLedger struct {
	exclusions port.ExclusionRepository
	items      port.TrackedItemRepository
	now        func() time.Time
}

func NewExclusionLedger(exclusions port.ExclusionRepository, items port.TrackedItemRepository) *ExclusionLedger {
	return &ExclusionLedger{exclusions: exclusions, items: items, now: time.Now}
}

func (l *ExclusionLedger) ExcludeListing(ctx context.Context, owner, listingID, counterpartID, reason string) error {
	listingID = strings.TrimSpace(listingID)
	counterpartID = strings.TrimSpace(counterpartID)
	if listingID == "" || counterpartID == "" {
		return fmt.Errorf("%w: listing id and counterpart id are required", ErrInvalidArgument)
	}
	err := l.exclusions.AddListing(ctx, model.ListingExclusion{
		OwnerID:       owner,
		ListingID:     listingID,
		CounterpartID: counterpartID,
		Reason:        reason,
		ExcludedAt:    l.now(),
	})
	if err != nil {
		return fmt.Errorf("exclude listing %s: %w", listingID, err)
	}
	log.Info().Str("owner", owner).Str("listing", listingID).Str("counterpart", counterpartID).Msg("listing excluded")
	return nil
}

func (l *ExclusionLedger) RestoreListing(ctx context.Context, owner, listingID string) error {
	if err := l.exclusions.RemoveListing(ctx, owner, listingID); err != nil {
		return fmt.Errorf("restore listing %s: %w", listingID, err)
	}
	return nil
}

// ExcludeItem records the exclusion, then deactivates the item so refreshes skip it.
// A failed deactivation withdraws the record; the item is never left half excluded.
func (l *ExclusionLedger) ExcludeItem(ctx context.Context, owner string, itemID int64, reason string) error {
	it, err := l.items.Get(ctx, owner, itemID)
	if err != nil {
		return fmt.Errorf("load item %d: %w", itemID, err)
	}
	err = l.exclusions.AddItem(ctx, model.ItemExclusion{
		OwnerID:       owner,
		ItemID:        itemID,
		CounterpartID: it.CounterpartID,
		Reason:        reason,
		ExcludedAt:    l.now(),
	})
	if err != nil {
		return fmt.Errorf("record item exclusion %d: %w", itemID, err)
	}
	if err := l.items.SetActive(ctx, owner, itemID, false); err != nil {
		if _, rerr := l.exclusions.RemoveItem(context.WithoutCancel(ctx), owner, itemID); rerr != nil {
			log.Error().Err(rerr).Str("owner", owner).Int64("item", itemID).Msg("withdraw item exclusion failed")
		}
		return fmt.Errorf("deactivate item %d: %w", itemID, err)
	}
	log.Info().Str("owner", owner).Int64("item", itemID).Str("counterpart", it.CounterpartID).Msg("item excluded")
	return nil
}

// RestoreItem clears the exclusion and reactivates the row if a refresh has not replaced it.
func (l *ExclusionLedger) RestoreItem(ctx context.Context, owner string, itemID int64) error {
	if _, err := l.exclusions.RemoveItem(ctx, owner, itemID); err != nil {
		return fmt.Errorf("restore item %d: %w", itemID, err)
	}
	if err := l.items.SetActive(ctx, owner, itemID, true); err != nil && !errors.Is(err, port.ErrNotFound) {
		return fmt.Errorf("reactivate item %d: %w", itemID, err)
	}
	return nil
}

func (l *ExclusionLedger) ListListingExclusions(ctx context.Context, owner, counterpartID string) ([]model.ListingExclusion, error) {
	return l.exclusions.ListListings(ctx, owner, counterpartID)
}

func (l *ExclusionLedger) ListItemExclusions(ctx context.Context, owner string) ([]model.ItemExclusion, error) {
	return l.exclusions.ListItems(ctx, owner)
}
