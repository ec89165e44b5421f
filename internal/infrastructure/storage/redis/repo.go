package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
)

// Repo 同步事件通知 (stream + pubsub) 与跨进程同步锁
type Repo struct {
	rdb          *redis.Client
	prefix       string
	lockTTL      time.Duration
	eventStream  string
	eventChannel string
}

// releaseScript 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func New(rdb *redis.Client, prefix string, lockTTL time.Duration, eventStream, eventChannel string) *Repo {
	prefix = strings.TrimSuffix(prefix, ":")
	if strings.TrimSpace(eventStream) == "" {
		eventStream = "sync_events"
	}
	if strings.TrimSpace(eventChannel) == "" {
		eventChannel = eventStream + ":pub"
	}
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &Repo{
		rdb:          rdb,
		prefix:       prefix,
		lockTTL:      lockTTL,
		eventStream:  prefix + ":" + eventStream,
		eventChannel: prefix + ":" + eventChannel,
	}
}

func (r *Repo) key(k string) string { return r.prefix + ":" + k }

// Send 1) XADD 到事件流 2) PUBLISH JSON 给在线订阅者
func (r *Repo) Send(ctx context.Context, ev model.Event) error {
	_, err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.eventStream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]any{
			"id":      ev.ID,
			"kind":    string(ev.Kind),
			"owner":   ev.OwnerID,
			"source":  string(ev.Source),
			"message": ev.Message,
			"ts_ms":   ev.At.UnixMilli(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", r.eventStream, err)
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.eventChannel, b).Err()
}

// TryLock SET NX PX；token 防止误删他人的锁
func (r *Repo) TryLock(ctx context.Context, key string) (func(), bool, error) {
	k := r.key(key)
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, k, token, r.lockTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", k, err)
	}
	if !ok {
		return nil, false, nil
	}
	unlock := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, r.rdb, []string{k}, token).Err()
	}
	return unlock, true, nil
}

func (r *Repo) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

var (
	_ port.NotificationSink = (*Repo)(nil)
	_ port.SyncLocker       = (*Repo)(nil)
)
