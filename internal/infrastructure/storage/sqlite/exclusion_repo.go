package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
)

// ExclusionRepo 挂单 / 商品排除记录
type ExclusionRepo struct {
	db *sql.DB
}

func NewExclusionRepo(db *sql.DB) *ExclusionRepo {
	return &ExclusionRepo{db: db}
}

func excludedAt(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UnixMilli()
}

// AddListing 重复排除同一挂单时更新原因
func (r *ExclusionRepo) AddListing(ctx context.Context, e model.ListingExclusion) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO listing_exclusions(owner_id, listing_id, counterpart_id, reason, excluded_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, listing_id) DO UPDATE SET
		counterpart_id=excluded.counterpart_id, reason=excluded.reason, excluded_at=excluded.excluded_at
	`, e.OwnerID, e.ListingID, e.CounterpartID, e.Reason, excludedAt(e.ExcludedAt))
	return err
}

func (r *ExclusionRepo) RemoveListing(ctx context.Context, owner, listingID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM listing_exclusions WHERE owner_id = ? AND listing_id = ?`, owner, listingID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return port.ErrNotFound
	}
	return nil
}

func (r *ExclusionRepo) ListListings(ctx context.Context, owner, counterpartID string) ([]model.ListingExclusion, error) {
	q := `SELECT owner_id, listing_id, counterpart_id, reason, excluded_at FROM listing_exclusions WHERE owner_id = ?`
	args := []any{owner}
	if counterpartID != "" {
		q += ` AND counterpart_id = ?`
		args = append(args, counterpartID)
	}
	rows, err := r.db.QueryContext(ctx, q+` ORDER BY counterpart_id, listing_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ListingExclusion
	for rows.Next() {
		var e model.ListingExclusion
		var at int64
		if err := rows.Scan(&e.OwnerID, &e.ListingID, &e.CounterpartID, &e.Reason, &at); err != nil {
			return nil, err
		}
		e.ExcludedAt = time.UnixMilli(at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ExclusionRepo) AddItem(ctx context.Context, e model.ItemExclusion) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO item_exclusions(owner_id, item_id, counterpart_id, reason, excluded_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, item_id) DO UPDATE SET
		reason=excluded.reason, excluded_at=excluded.excluded_at
	`, e.OwnerID, e.ItemID, e.CounterpartID, e.Reason, excludedAt(e.ExcludedAt))
	return err
}

// RemoveItem deletes the record and returns what was removed.
func (r *ExclusionRepo) RemoveItem(ctx context.Context, owner string, itemID int64) (*model.ItemExclusion, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	e := model.ItemExclusion{OwnerID: owner, ItemID: itemID}
	var at int64
	err = tx.QueryRowContext(ctx, `
		SELECT counterpart_id, reason, excluded_at FROM item_exclusions WHERE owner_id = ? AND item_id = ?
	`, owner, itemID).Scan(&e.CounterpartID, &e.Reason, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.ExcludedAt = time.UnixMilli(at).UTC()

	if _, err := tx.ExecContext(ctx, `DELETE FROM item_exclusions WHERE owner_id = ? AND item_id = ?`, owner, itemID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *ExclusionRepo) ListItems(ctx context.Context, owner string) ([]model.ItemExclusion, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT owner_id, item_id, counterpart_id, reason, excluded_at FROM item_exclusions
		WHERE owner_id = ? ORDER BY item_id
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ItemExclusion
	for rows.Next() {
		var e model.ItemExclusion
		var at int64
		if err := rows.Scan(&e.OwnerID, &e.ItemID, &e.CounterpartID, &e.Reason, &at); err != nil {
			return nil, err
		}
		e.ExcludedAt = time.UnixMilli(at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ port.ExclusionRepository = (*ExclusionRepo)(nil)
