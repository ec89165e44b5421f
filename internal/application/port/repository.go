package port

import (
	"context"
	"errors"
	"time"

	"flipwatch/internal/domain/model"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("not found")
	// ErrCursorConflict 游标版本冲突（并发写入）
	ErrCursorConflict = errors.New("sync cursor version conflict")
)

// TrackedItemRepository 监控列表仓储
type TrackedItemRepository interface {
	// ReplaceAll deletes the owner's watchlist and inserts items in one transaction.
	ReplaceAll(ctx context.Context, owner string, items []model.TrackedItem) error
	// ListActive 返回所有激活条目（含各来源最近同步时间）
	ListActive(ctx context.Context, owner string) ([]model.TrackedItem, error)
	Get(ctx context.Context, owner string, id int64) (*model.TrackedItem, error)
	SetActive(ctx context.Context, owner string, id int64, active bool) error

	// CountDue and ListDue select active items not attempted for src since the given instant.
	CountDue(ctx context.Context, owner string, src model.Source, since time.Time) (int, error)
	ListDue(ctx context.Context, owner string, src model.Source, since time.Time, limit int) ([]model.TrackedItem, error)

	// MarkSynced 记录成功同步（synced + attempted）
	MarkSynced(ctx context.Context, owner string, src model.Source, counterpartID string, at time.Time) error
	// MarkFailed 仅记录尝试时间与错误
	MarkFailed(ctx context.Context, owner string, src model.Source, counterpartID string, at time.Time, reason string) error
}

// SnapshotRepository 价格快照仓储，按 (owner, counterpart, source) 唯一
type SnapshotRepository interface {
	Upsert(ctx context.Context, s *model.PriceSnapshot) error
	Get(ctx context.Context, owner, counterpartID string, src model.Source) (*model.PriceSnapshot, error)
	ListByOwner(ctx context.Context, owner string) ([]model.PriceSnapshot, error)
	// CounterpartsWithPrice 返回至少有一个非空价格快照的 counterpart
	CounterpartsWithPrice(ctx context.Context, owner string) (map[string]struct{}, error)
}

// CursorRepository 同步游标仓储
type CursorRepository interface {
	// Get returns ErrNotFound when the (owner, source) cursor was never written.
	Get(ctx context.Context, owner string, src model.Source) (*model.SyncCursor, error)
	// Save writes c if the stored version still equals c.Version, then bumps c.Version.
	// A zero version inserts; a mismatch returns ErrCursorConflict.
	Save(ctx context.Context, c *model.SyncCursor) error
	List(ctx context.Context, owner string) ([]model.SyncCursor, error)
}

// ExclusionRepository 排除记录仓储
type ExclusionRepository interface {
	AddListing(ctx context.Context, e model.ListingExclusion) error
	RemoveListing(ctx context.Context, owner, listingID string) error
	// ListListings filters by counterpart when counterpartID is non-empty.
	ListListings(ctx context.Context, owner, counterpartID string) ([]model.ListingExclusion, error)

	AddItem(ctx context.Context, e model.ItemExclusion) error
	RemoveItem(ctx context.Context, owner string, itemID int64) (*model.ItemExclusion, error)
	ListItems(ctx context.Context, owner string) ([]model.ItemExclusion, error)
}
