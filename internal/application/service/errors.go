package service

import "errors"

var (
	// ErrSyncInProgress 同一 (owner, source) 已有同步在运行
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrCursorCorrupt 游标位置超过当日总数
	ErrCursorCorrupt = errors.New("sync cursor corrupt")
	// ErrWatchlistReplace 监控列表替换失败（已回滚）
	ErrWatchlistReplace = errors.New("watchlist replace failed")
	// ErrUnknownSource 未配置的价格来源
	ErrUnknownSource = errors.New("unknown pricing source")
	// ErrInvalidQuery 机会查询参数非法
	ErrInvalidQuery = errors.New("invalid opportunity query")
	// ErrInvalidArgument 排除操作参数非法
	ErrInvalidArgument = errors.New("invalid argument")
)
