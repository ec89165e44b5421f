package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
)

// Repo 只读访问业务库：销售历史、人气排行、批量候选、自有挂单
type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewWithDB(db), nil
}

// NewWithDB wraps an existing handle; tests pass a sqlmock db.
func NewWithDB(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *Repo) UnitsSoldByCounterpart(ctx context.Context, owner string, since time.Time) ([]model.SalesCount, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT o.counterpart_id,
       COALESCE(MAX(o.external_id), '') AS external_id,
       SUM(o.units)::int AS units
FROM sales_orders o
WHERE o.owner_id = $1 AND o.sold_at >= $2 AND o.counterpart_id <> ''
GROUP BY o.counterpart_id
ORDER BY MIN(o.sold_at), MIN(o.id)
`, owner, since)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
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

func (r *Repo) RankedRetiredCandidates(ctx context.Context) ([]model.PopularityCandidate, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT counterpart_id, COALESCE(external_id, ''), rank, retirement_date
FROM popularity_rankings
ORDER BY rank, counterpart_id
`)
	if err != nil {
		return nil, fmt.Errorf("query popularity: %w", err)
	}
	defer rows.Close()

	var out []model.PopularityCandidate
	for rows.Next() {
		var (
			c       model.PopularityCandidate
			retired sql.NullTime
		)
		if err := rows.Scan(&c.CounterpartID, &c.ExternalID, &c.Rank, &retired); err != nil {
			return nil, err
		}
		if retired.Valid {
			t := retired.Time
			c.RetirementDate = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) BulkSeededCandidates(ctx context.Context, owner string) ([]model.SeedCandidate, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT counterpart_id, COALESCE(external_id, '')
FROM seed_candidates
WHERE owner_id = $1
ORDER BY created_at, counterpart_id
`, owner)
	if err != nil {
		return nil, fmt.Errorf("query seeds: %w", err)
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

func (r *Repo) OwnListings(ctx context.Context, owner string) ([]model.OwnListing, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT counterpart_id, listed_price, quantity
FROM own_listings
WHERE owner_id = $1
ORDER BY counterpart_id
`, owner)
	if err != nil {
		return nil, fmt.Errorf("query own listings: %w", err)
	}
	defer rows.Close()

	var out []model.OwnListing
	for rows.Next() {
		var (
			l     model.OwnListing
			price sql.NullFloat64
		)
		if err := rows.Scan(&l.CounterpartID, &price, &l.Quantity); err != nil {
			return nil, err
		}
		if price.Valid {
			v := price.Float64
			l.ListedPrice = &v
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

var _ port.OpsReader = (*Repo)(nil)
