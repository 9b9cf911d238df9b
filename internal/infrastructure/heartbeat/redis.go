package heartbeat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps <prefix>:heartbeat:<worker> alive with a TTL so external
// monitors can spot workers that stopped beating.
type Redis struct {
	rdb    *redis.Client
	worker string
	key    string
	ttl    time.Duration
}

type beat struct {
	Worker string `json:"worker"`
	TsMs   int64  `json:"ts_ms"`
}

func NewRedis(rdb *redis.Client, prefix, worker string, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, worker: worker, key: Key(prefix, worker), ttl: ttl}
}

func Key(prefix, worker string) string {
	return prefix + ":heartbeat:" + worker
}

func (r *Redis) Beat(ctx context.Context, at time.Time) error {
	b, _ := json.Marshal(beat{Worker: r.worker, TsMs: at.UnixMilli()})
	return r.rdb.Set(ctx, r.key, string(b), r.ttl).Err()
}
