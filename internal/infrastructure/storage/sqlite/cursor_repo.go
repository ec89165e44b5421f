package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
)

// CursorRepo 同步游标仓储（乐观锁）
type CursorRepo struct {
	db *sql.DB
}

func NewCursorRepo(db *sql.DB) *CursorRepo {
	return &CursorRepo{db: db}
}

const cursorColumns = `owner_id, source, sync_date, cursor_position, total_items_for_day,
	items_processed, items_failed, status, last_error, last_run_at, version`

func (r *CursorRepo) Get(ctx context.Context, owner string, src model.Source) (*model.SyncCursor, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+cursorColumns+` FROM sync_cursors WHERE owner_id = ? AND source = ?`,
		owner, string(src))
	c, err := scanCursor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	return c, err
}

func (r *CursorRepo) Save(ctx context.Context, c *model.SyncCursor) error {
	var (
		res sql.Result
		err error
	)
	if c.Version == 0 {
		res, err = r.db.ExecContext(ctx, `
			INSERT INTO sync_cursors(`+cursorColumns+`)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(owner_id, source) DO NOTHING
		`, c.OwnerID, string(c.Source), c.SyncDate, c.CursorPosition, c.TotalItemsForDay,
			c.ItemsProcessed, c.ItemsFailed, string(c.Status), c.LastError, c.LastRunAt.UnixMilli())
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE sync_cursors SET
			sync_date=?, cursor_position=?, total_items_for_day=?, items_processed=?, items_failed=?,
			status=?, last_error=?, last_run_at=?, version=version+1
			WHERE owner_id = ? AND source = ? AND version = ?
		`, c.SyncDate, c.CursorPosition, c.TotalItemsForDay, c.ItemsProcessed, c.ItemsFailed,
			string(c.Status), c.LastError, c.LastRunAt.UnixMilli(),
			c.OwnerID, string(c.Source), c.Version)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return port.ErrCursorConflict
	}
	c.Version++
	return nil
}

func (r *CursorRepo) List(ctx context.Context, owner string) ([]model.SyncCursor, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+cursorColumns+` FROM sync_cursors WHERE owner_id = ? ORDER BY source`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SyncCursor
	for rows.Next() {
		c, err := scanCursor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCursor(s rowScanner) (*model.SyncCursor, error) {
	var c model.SyncCursor
	var src, status string
	var lastRun int64
	if err := s.Scan(&c.OwnerID, &src, &c.SyncDate, &c.CursorPosition, &c.TotalItemsForDay,
		&c.ItemsProcessed, &c.ItemsFailed, &status, &c.LastError, &lastRun, &c.Version); err != nil {
		return nil, err
	}
	c.Source = model.Source(src)
	c.Status = model.CursorStatus(status)
	c.LastRunAt = time.UnixMilli(lastRun).UTC()
	return &c, nil
}

var _ port.CursorRepository = (*CursorRepo)(nil)
