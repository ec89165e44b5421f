package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
)

// ItemRepo 监控列表 + 每来源同步状态
type ItemRepo struct {
	db *sql.DB
}

func NewItemRepo(db *sql.DB) *ItemRepo {
	return &ItemRepo{db: db}
}

const itemColumns = `t.id, t.owner_id, t.external_id, t.counterpart_id, t.reason, t.is_active, t.needs_review, t.created_at`

// ReplaceAll 删除并重建整个监控列表（单事务）
func (r *ItemRepo) ReplaceAll(ctx context.Context, owner string, items []model.TrackedItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tracked_items WHERE owner_id = ?`, owner); err != nil {
		return fmt.Errorf("delete watchlist: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tracked_items(owner_id, external_id, counterpart_id, reason, is_active, needs_review, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, it := range items {
		created := now
		if !it.CreatedAt.IsZero() {
			created = it.CreatedAt.UnixMilli()
		}
		if _, err := stmt.ExecContext(ctx, owner, it.ExternalID, it.CounterpartID, string(it.Reason),
			boolInt(it.IsActive), boolInt(it.NeedsReview), created); err != nil {
			return fmt.Errorf("insert %s: %w", it.CounterpartID, err)
		}
	}
	return tx.Commit()
}

func (r *ItemRepo) ListActive(ctx context.Context, owner string) ([]model.TrackedItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM tracked_items t
		WHERE t.owner_id = ? AND t.is_active = 1
		ORDER BY t.id
	`, owner)
	if err != nil {
		return nil, err
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachSyncState(ctx, owner, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *ItemRepo) Get(ctx context.Context, owner string, id int64) (*model.TrackedItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM tracked_items t WHERE t.owner_id = ? AND t.id = ?
	`, owner, id)
	if err != nil {
		return nil, err
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, port.ErrNotFound
	}
	if err := r.attachSyncState(ctx, owner, items); err != nil {
		return nil, err
	}
	return &items[0], nil
}

func (r *ItemRepo) SetActive(ctx context.Context, owner string, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE tracked_items SET is_active = ? WHERE owner_id = ? AND id = ?`,
		boolInt(active), owner, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return port.ErrNotFound
	}
	return nil
}

// dueWhere 当日尚未尝试的激活条目；buy box 需要目录 ID
func dueWhere(src model.Source) string {
	q := `
		FROM tracked_items t
		LEFT JOIN item_sync_state s
		  ON s.owner_id = t.owner_id AND s.counterpart_id = t.counterpart_id AND s.source = ?
		WHERE t.owner_id = ? AND t.is_active = 1
		  AND (s.last_attempted_at IS NULL OR s.last_attempted_at < ?)`
	if src == model.SourceBuyBox {
		q += ` AND t.external_id <> ''`
	}
	return q
}

func (r *ItemRepo) CountDue(ctx context.Context, owner string, src model.Source, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) `+dueWhere(src), string(src), owner, since.UnixMilli()).Scan(&n)
	return n, err
}

// ListDue orders never-synced items first, then oldest sync, then id.
func (r *ItemRepo) ListDue(ctx context.Context, owner string, src model.Source, since time.Time, limit int) ([]model.TrackedItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+itemColumns+`, s.last_synced_at `+dueWhere(src)+`
		ORDER BY s.last_synced_at IS NOT NULL, s.last_synced_at, t.id
		LIMIT ?
	`, string(src), owner, since.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TrackedItem
	for rows.Next() {
		var it model.TrackedItem
		var synced sql.NullInt64
		if err := scanItem(rows, &it, &synced); err != nil {
			return nil, err
		}
		if synced.Valid {
			it.LastSyncedAt = map[model.Source]time.Time{src: time.UnixMilli(synced.Int64).UTC()}
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *ItemRepo) MarkSynced(ctx context.Context, owner string, src model.Source, counterpartID string, at time.Time) error {
	ts := at.UnixMilli()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO item_sync_state(owner_id, counterpart_id, source, last_synced_at, last_attempted_at, last_error)
		VALUES(?, ?, ?, ?, ?, '')
		ON CONFLICT(owner_id, counterpart_id, source) DO UPDATE SET
		last_synced_at=excluded.last_synced_at, last_attempted_at=excluded.last_attempted_at, last_error=''
	`, owner, counterpartID, string(src), ts, ts)
	return err
}

func (r *ItemRepo) MarkFailed(ctx context.Context, owner string, src model.Source, counterpartID string, at time.Time, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO item_sync_state(owner_id, counterpart_id, source, last_synced_at, last_attempted_at, last_error)
		VALUES(?, ?, ?, NULL, ?, ?)
		ON CONFLICT(owner_id, counterpart_id, source) DO UPDATE SET
		last_attempted_at=excluded.last_attempted_at, last_error=excluded.last_error
	`, owner, counterpartID, string(src), at.UnixMilli(), reason)
	return err
}

// LastError returns the recorded failure reason, empty when the last attempt succeeded.
func (r *ItemRepo) LastError(ctx context.Context, owner string, src model.Source, counterpartID string) (string, error) {
	var msg string
	err := r.db.QueryRowContext(ctx, `
		SELECT last_error FROM item_sync_state WHERE owner_id = ? AND counterpart_id = ? AND source = ?
	`, owner, counterpartID, string(src)).Scan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return "", port.ErrNotFound
	}
	return msg, err
}

func (r *ItemRepo) attachSyncState(ctx context.Context, owner string, items []model.TrackedItem) error {
	if len(items) == 0 {
		return nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT counterpart_id, source, last_synced_at FROM item_sync_state
		WHERE owner_id = ? AND last_synced_at IS NOT NULL
	`, owner)
	if err != nil {
		return err
	}
	defer rows.Close()

	synced := make(map[string]map[model.Source]time.Time)
	for rows.Next() {
		var cp, src string
		var ts int64
		if err := rows.Scan(&cp, &src, &ts); err != nil {
			return err
		}
		m, ok := synced[cp]
		if !ok {
			m = make(map[model.Source]time.Time)
			synced[cp] = m
		}
		m[model.Source(src)] = time.UnixMilli(ts).UTC()
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range items {
		items[i].LastSyncedAt = synced[items[i].CounterpartID]
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(s rowScanner, it *model.TrackedItem, extra ...any) error {
	var reason string
	var active, review int
	var created int64
	dest := []any{&it.ID, &it.OwnerID, &it.ExternalID, &it.CounterpartID, &reason, &active, &review, &created}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	it.Reason = model.TrackingReason(reason)
	it.IsActive = active == 1
	it.NeedsReview = review == 1
	it.CreatedAt = time.UnixMilli(created).UTC()
	return nil
}

func scanItems(rows *sql.Rows) ([]model.TrackedItem, error) {
	defer rows.Close()
	var out []model.TrackedItem
	for rows.Next() {
		var it model.TrackedItem
		if err := scanItem(rows, &it); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

var _ port.TrackedItemRepository = (*ItemRepo)(nil)
