package model

import "time"

// CursorStatus 同步游标状态
type CursorStatus string

const (
	CursorRunning   CursorStatus = "running"
	CursorCompleted CursorStatus = "completed"
	CursorError     CursorStatus = "error"
)

// SyncDateLayout is the calendar-day format stored in SyncCursor.SyncDate.
const SyncDateLayout = "2006-01-02"

// SyncCursor 每个 (owner, source) 一行的日同步进度
type SyncCursor struct {
	OwnerID          string       `json:"owner_id"`
	Source           Source       `json:"source"`
	SyncDate         string       `json:"sync_date"`
	CursorPosition   int          `json:"cursor_position"`
	TotalItemsForDay int          `json:"total_items_for_day"`
	ItemsProcessed   int          `json:"items_processed"`
	ItemsFailed      int          `json:"items_failed"`
	Status           CursorStatus `json:"status"`
	LastError        string       `json:"last_error,omitempty"`
	LastRunAt        time.Time    `json:"last_run_at"`
	Version          int64        `json:"version"` // 乐观锁版本
}

// Remaining 当日剩余条目数
func (c *SyncCursor) Remaining() int {
	if r := c.TotalItemsForDay - c.CursorPosition; r > 0 {
		return r
	}
	return 0
}

// IsCompletedFor reports whether the cursor already finished the given day.
func (c *SyncCursor) IsCompletedFor(day string) bool {
	return c.SyncDate == day && c.Status == CursorCompleted
}

// BatchResult 单次 ProcessNextBatch 的结果
type BatchResult struct {
	Source         Source `json:"source"`
	Attempted      int    `json:"attempted"`
	Processed      int    `json:"processed"`
	Failed         int    `json:"failed"`
	CursorPosition int    `json:"cursor_position"`
	TotalForDay    int    `json:"total_for_day"`
	Complete       bool   `json:"complete"`
	StoppedEarly   bool   `json:"stopped_early,omitempty"` // 被限流或传输错误提前终止
}

// RefreshResult 监控列表刷新结果
type RefreshResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}
