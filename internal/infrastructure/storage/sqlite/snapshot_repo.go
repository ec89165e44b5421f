package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
)

// SnapshotRepo 价格快照仓储
type SnapshotRepo struct {
	db *sql.DB
}

func NewSnapshotRepo(db *sql.DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// Upsert 同一 (owner, counterpart, source) 覆盖写入
func (r *SnapshotRepo) Upsert(ctx context.Context, s *model.PriceSnapshot) error {
	var listings sql.NullString
	if len(s.Listings) > 0 {
		b, err := json.Marshal(s.Listings)
		if err != nil {
			return fmt.Errorf("encode listings: %w", err)
		}
		listings = sql.NullString{String: string(b), Valid: true}
	}
	date := s.SnapshotDate
	if date.IsZero() {
		date = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO price_snapshots(
			owner_id, counterpart_id, source, buybox_price, lowest_new_price, sales_rank,
			min_price, avg_price, max_price, lot_count, quantity_count, listings,
			has_price, snapshot_date, updated_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, counterpart_id, source) DO UPDATE SET
		buybox_price=excluded.buybox_price, lowest_new_price=excluded.lowest_new_price,
		sales_rank=excluded.sales_rank, min_price=excluded.min_price, avg_price=excluded.avg_price,
		max_price=excluded.max_price, lot_count=excluded.lot_count, quantity_count=excluded.quantity_count,
		listings=excluded.listings, has_price=excluded.has_price,
		snapshot_date=excluded.snapshot_date, updated_at=excluded.updated_at
	`, s.OwnerID, s.CounterpartID, string(s.Source),
		nullFloat(s.BuyBoxPrice), nullFloat(s.LowestNewPrice), nullInt(s.SalesRank),
		nullFloat(s.MinPrice), nullFloat(s.AvgPrice), nullFloat(s.MaxPrice),
		nullInt(s.LotCount), nullInt(s.QuantityCount), listings,
		boolInt(s.HasPrice()), date.UnixMilli(), time.Now().UnixMilli())
	return err
}

const snapshotColumns = `owner_id, counterpart_id, source, buybox_price, lowest_new_price, sales_rank,
	min_price, avg_price, max_price, lot_count, quantity_count, listings, snapshot_date`

func (r *SnapshotRepo) Get(ctx context.Context, owner, counterpartID string, src model.Source) (*model.PriceSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM price_snapshots
		WHERE owner_id = ? AND counterpart_id = ? AND source = ?
	`, owner, counterpartID, string(src))
	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	return s, err
}

func (r *SnapshotRepo) ListByOwner(ctx context.Context, owner string) ([]model.PriceSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+` FROM price_snapshots WHERE owner_id = ? ORDER BY counterpart_id, source
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PriceSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *SnapshotRepo) CounterpartsWithPrice(ctx context.Context, owner string) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT counterpart_id FROM price_snapshots WHERE owner_id = ? AND has_price = 1
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var cp string
		if err := rows.Scan(&cp); err != nil {
			return nil, err
		}
		out[cp] = struct{}{}
	}
	return out, rows.Err()
}

func scanSnapshot(s rowScanner) (*model.PriceSnapshot, error) {
	var (
		snap                              model.PriceSnapshot
		src                               string
		buyBox, lowestNew, minP, avgP, mx sql.NullFloat64
		rank, lots, qty                   sql.NullInt64
		listings                          sql.NullString
		date                              int64
	)
	if err := s.Scan(&snap.OwnerID, &snap.CounterpartID, &src, &buyBox, &lowestNew, &rank,
		&minP, &avgP, &mx, &lots, &qty, &listings, &date); err != nil {
		return nil, err
	}
	snap.Source = model.Source(src)
	snap.BuyBoxPrice = floatPtr(buyBox)
	snap.LowestNewPrice = floatPtr(lowestNew)
	snap.SalesRank = intPtr(rank)
	snap.MinPrice = floatPtr(minP)
	snap.AvgPrice = floatPtr(avgP)
	snap.MaxPrice = floatPtr(mx)
	snap.LotCount = intPtr(lots)
	snap.QuantityCount = intPtr(qty)
	snap.SnapshotDate = time.UnixMilli(date).UTC()
	if listings.Valid && listings.String != "" {
		if err := json.Unmarshal([]byte(listings.String), &snap.Listings); err != nil {
			return nil, fmt.Errorf("decode listings for %s: %w", snap.CounterpartID, err)
		}
	}
	return &snap, nil
}

var _ port.SnapshotRepository = (*SnapshotRepo)(nil)
