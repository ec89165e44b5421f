package model

import "time"

// ListingExclusion 被手动排除的同行挂单
type ListingExclusion struct {
	OwnerID       string    `json:"owner_id"`
	ListingID     string    `json:"listing_id"`
	CounterpartID string    `json:"counterpart_id"`
	Reason        string    `json:"reason"`
	ExcludedAt    time.Time `json:"excluded_at"`
}

// ItemExclusion 被手动排除的监控商品（行本身保留用于审计）
type ItemExclusion struct {
	OwnerID       string    `json:"owner_id"`
	ItemID        int64     `json:"item_id"`
	CounterpartID string    `json:"counterpart_id"`
	Reason        string    `json:"reason"`
	ExcludedAt    time.Time `json:"excluded_at"`
}

// Event is a notification emitted by the synchronizer.
type Event struct {
	ID      string    `json:"id"`
	Kind    EventKind `json:"kind"`
	OwnerID string    `json:"owner_id"`
	Source  Source    `json:"source"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// EventKind 通知类型
type EventKind string

const (
	EventStart    EventKind = "start"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)
