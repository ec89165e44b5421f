package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) GetDB() *sql.DB {
	return r.db
}

func (r *Repo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS tracked_items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  owner_id TEXT NOT NULL,
  external_id TEXT NOT NULL DEFAULT '',
  counterpart_id TEXT NOT NULL,
  reason TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 1,
  needs_review INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  UNIQUE(owner_id, counterpart_id)
);
CREATE INDEX IF NOT EXISTS idx_items_owner_active ON tracked_items(owner_id, is_active);

CREATE TABLE IF NOT EXISTS item_sync_state (
  owner_id TEXT NOT NULL,
  counterpart_id TEXT NOT NULL,
  source TEXT NOT NULL,
  last_synced_at INTEGER,
  last_attempted_at INTEGER,
  last_error TEXT NOT NULL DEFAULT '',
  PRIMARY KEY(owner_id, counterpart_id, source)
);

CREATE TABLE IF NOT EXISTS price_snapshots (
  owner_id TEXT NOT NULL,
  counterpart_id TEXT NOT NULL,
  source TEXT NOT NULL,
  buybox_price REAL,
  lowest_new_price REAL,
  sales_rank INTEGER,
  min_price REAL,
  avg_price REAL,
  max_price REAL,
  lot_count INTEGER,
  quantity_count INTEGER,
  listings TEXT,
  has_price INTEGER NOT NULL DEFAULT 0,
  snapshot_date INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY(owner_id, counterpart_id, source)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_owner ON price_snapshots(owner_id);

CREATE TABLE IF NOT EXISTS sync_cursors (
  owner_id TEXT NOT NULL,
  source TEXT NOT NULL,
  sync_date TEXT NOT NULL,
  cursor_position INTEGER NOT NULL,
  total_items_for_day INTEGER NOT NULL,
  items_processed INTEGER NOT NULL,
  items_failed INTEGER NOT NULL,
  status TEXT NOT NULL,
  last_error TEXT NOT NULL DEFAULT '',
  last_run_at INTEGER NOT NULL,
  version INTEGER NOT NULL,
  PRIMARY KEY(owner_id, source)
);

CREATE TABLE IF NOT EXISTS listing_exclusions (
  owner_id TEXT NOT NULL,
  listing_id TEXT NOT NULL,
  counterpart_id TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  excluded_at INTEGER NOT NULL,
  PRIMARY KEY(owner_id, listing_id)
);
CREATE INDEX IF NOT EXISTS idx_listing_excl_counterpart ON listing_exclusions(owner_id, counterpart_id);

CREATE TABLE IF NOT EXISTS item_exclusions (
  owner_id TEXT NOT NULL,
  item_id INTEGER NOT NULL,
  counterpart_id TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  excluded_at INTEGER NOT NULL,
  PRIMARY KEY(owner_id, item_id)
);

CREATE TABLE IF NOT EXISTS sales_orders (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  owner_id TEXT NOT NULL,
  counterpart_id TEXT NOT NULL,
  external_id TEXT NOT NULL DEFAULT '',
  units INTEGER NOT NULL,
  sold_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sales_owner_time ON sales_orders(owner_id, sold_at);

CREATE TABLE IF NOT EXISTS popularity_rankings (
  counterpart_id TEXT PRIMARY KEY,
  external_id TEXT NOT NULL DEFAULT '',
  rank INTEGER NOT NULL,
  retirement_date INTEGER
);

CREATE TABLE IF NOT EXISTS seed_candidates (
  owner_id TEXT NOT NULL,
  counterpart_id TEXT NOT NULL,
  external_id TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  PRIMARY KEY(owner_id, counterpart_id)
);

CREATE TABLE IF NOT EXISTS own_listings (
  owner_id TEXT NOT NULL,
  counterpart_id TEXT NOT NULL,
  listed_price REAL,
  quantity INTEGER NOT NULL DEFAULT 0,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY(owner_id, counterpart_id)
);
`)
	return err
}
