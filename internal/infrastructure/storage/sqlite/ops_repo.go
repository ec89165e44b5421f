package sqlite

import (
	"context"
	"database/sql"
	"time"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
)

// OpsRepo 本地镜像的业务数据（订单、排行、导入候选、自有挂单）
type OpsRepo struct {
	db *sql.DB
}

func NewOpsRepo(db *sql.DB) *OpsRepo {
	return &OpsRepo{db: db}
}

// ========== Readers ==========

func (r *OpsRepo) UnitsSoldByCounterpart(ctx context.Context, owner string, since time.Time) ([]model.SalesCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT counterpart_id, MAX(external_id), SUM(units)
		FROM sales_orders
		WHERE owner_id = ? AND sold_at >= ?
		GROUP BY counterpart_id
		ORDER BY MIN(sold_at), MIN(id)
	`, owner, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SalesCount
	for rows.Next() {
		var c model.SalesCount
		if err := rows.Scan(&c.CounterpartID, &c.ExternalID, &c.Units); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *OpsRepo) RankedRetiredCandidates(ctx context.Context) ([]model.PopularityCandidate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT counterpart_id, external_id, rank, retirement_date
		FROM popularity_rankings ORDER BY rank, counterpart_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PopularityCandidate
	for rows.Next() {
		var c model.PopularityCandidate
		var retired sql.NullInt64
		if err := rows.Scan(&c.CounterpartID, &c.ExternalID, &c.Rank, &retired); err != nil {
			return nil, err
		}
		c.RetirementDate = timePtr(retired)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *OpsRepo) BulkSeededCandidates(ctx context.Context, owner string) ([]model.SeedCandidate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT counterpart_id, external_id FROM seed_candidates
		WHERE owner_id = ? ORDER BY created_at, counterpart_id
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SeedCandidate
	for rows.Next() {
		var c model.SeedCandidate
		if err := rows.Scan(&c.CounterpartID, &c.ExternalID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *OpsRepo) OwnListings(ctx context.Context, owner string) ([]model.OwnListing, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT counterpart_id, listed_price, quantity FROM own_listings WHERE owner_id = ?
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OwnListing
	for rows.Next() {
		var l model.OwnListing
		var price sql.NullFloat64
		if err := rows.Scan(&l.CounterpartID, &price, &l.Quantity); err != nil {
			return nil, err
		}
		l.ListedPrice = floatPtr(price)
		out = append(out, l)
	}
	return out, rows.Err()
}

// ========== Writers ==========

// RecordSale 追加一条销售记录
func (r *OpsRepo) RecordSale(ctx context.Context, owner, counterpartID, externalID string, units int, soldAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sales_orders(owner_id, counterpart_id, external_id, units, sold_at) VALUES(?, ?, ?, ?, ?)
	`, owner, counterpartID, externalID, units, soldAt.UnixMilli())
	return err
}

func (r *OpsRepo) UpsertPopularity(ctx context.Context, c model.PopularityCandidate) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO popularity_rankings(counterpart_id, external_id, rank, retirement_date) VALUES(?, ?, ?, ?)
		ON CONFLICT(counterpart_id) DO UPDATE SET
		external_id=excluded.external_id, rank=excluded.rank, retirement_date=excluded.retirement_date
	`, c.CounterpartID, c.ExternalID, c.Rank, nullTime(c.RetirementDate))
	return err
}

func (r *OpsRepo) AddSeed(ctx context.Context, owner string, c model.SeedCandidate) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO seed_candidates(owner_id, counterpart_id, external_id, created_at) VALUES(?, ?, ?, ?)
		ON CONFLICT(owner_id, counterpart_id) DO UPDATE SET external_id=excluded.external_id
	`, owner, c.CounterpartID, c.ExternalID, time.Now().UnixNano())
	return err
}

func (r *OpsRepo) UpsertOwnListing(ctx context.Context, owner string, l model.OwnListing) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO own_listings(owner_id, counterpart_id, listed_price, quantity, updated_at) VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, counterpart_id) DO UPDATE SET
		listed_price=excluded.listed_price, quantity=excluded.quantity, updated_at=excluded.updated_at
	`, owner, l.CounterpartID, nullFloat(l.ListedPrice), l.Quantity, time.Now().UnixMilli())
	return err
}

var _ port.OpsReader = (*OpsRepo)(nil)
