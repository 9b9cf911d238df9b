package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"pfingest/internal/application/port"
)

// promoteScript moves due members of the delayed set onto the stream.
// Members are "<uuid>|<body>".
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local n = 0
for _, m in ipairs(due) do
  if redis.call('ZREM', KEYS[1], m) == 1 then
    local i = string.find(m, '|', 1, true)
    redis.call('XADD', KEYS[2], '*', 'body', string.sub(m, i + 1))
    n = n + 1
  end
end
return n
`)

const bodyField = "body"

type Options struct {
	// Stream 队列名, e.g. "pfingest:ingest"
	Stream   string
	Group    string
	Consumer string
	// VisibilityTimeout is how long a delivered but unacknowledged message
	// stays invisible before another consumer may claim it.
	VisibilityTimeout time.Duration
}

// Queue is an at-least-once queue on a Redis stream with a consumer group.
// Delayed sends wait in a sorted set keyed by due time.
type Queue struct {
	rdb        *redis.Client
	stream     string
	delayed    string
	group      string
	consumer   string
	visibility time.Duration
	now        func() time.Time
}

func New(ctx context.Context, rdb *redis.Client, opts Options) (*Queue, error) {
	if strings.TrimSpace(opts.Stream) == "" {
		return nil, errors.New("redisqueue: stream is required")
	}
	if opts.Group == "" {
		opts.Group = "ingest"
	}
	if opts.Consumer == "" {
		opts.Consumer = "worker-" + uuid.NewString()[:8]
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 5 * time.Minute
	}
	q := &Queue{
		rdb:        rdb,
		stream:     opts.Stream,
		delayed:    opts.Stream + ":delayed",
		group:      opts.Group,
		consumer:   opts.Consumer,
		visibility: opts.VisibilityTimeout,
		now:        time.Now,
	}
	err := rdb.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("redisqueue: create group %s on %s: %w", q.group, q.stream, err)
	}
	return q, nil
}

func (q *Queue) Name() string { return q.stream }

func (q *Queue) Send(ctx context.Context, body []byte, delay time.Duration) error {
	if delay <= 0 {
		return q.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: q.stream,
			Values: map[string]any{bodyField: string(body)},
		}).Err()
	}
	due := q.now().Add(delay).UnixMilli()
	return q.rdb.ZAdd(ctx, q.delayed, redis.Z{
		Score:  float64(due),
		Member: uuid.NewString() + "|" + string(body),
	}).Err()
}

// Receive promotes due delayed messages, then reclaims deliveries whose
// visibility timeout expired, then long-polls for new ones.
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]port.Message, error) {
	if max <= 0 {
		max = 10
	}
	if err := q.promote(ctx, max); err != nil {
		return nil, err
	}

	claimed, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.visibility,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redisqueue: autoclaim: %w", err)
	}
	if msgs := q.convert(ctx, claimed); len(msgs) > 0 {
		log.Debug().Str("stream", q.stream).Int("n", len(msgs)).Msg("reclaimed idle messages")
		return msgs, nil
	}

	block := wait
	if block <= 0 {
		block = -1
	}
	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisqueue: read group: %w", err)
	}
	var out []port.Message
	for _, s := range streams {
		out = append(out, q.convert(ctx, s.Messages)...)
	}
	return out, nil
}

func (q *Queue) promote(ctx context.Context, max int) error {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	err := promoteScript.Run(ctx, q.rdb, []string{q.delayed, q.stream}, now, max).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redisqueue: promote delayed: %w", err)
	}
	return nil
}

// convert drops entries without a body; those were deleted after delivery.
func (q *Queue) convert(ctx context.Context, in []redis.XMessage) []port.Message {
	out := make([]port.Message, 0, len(in))
	for _, m := range in {
		body, ok := m.Values[bodyField].(string)
		if !ok {
			_ = q.rdb.XAck(ctx, q.stream, q.group, m.ID).Err()
			continue
		}
		out = append(out, port.Message{Handle: m.ID, Body: []byte(body)})
	}
	return out
}

func (q *Queue) Delete(ctx context.Context, handle string) error {
	pipe := q.rdb.TxPipeline()
	pipe.XAck(ctx, q.stream, q.group, handle)
	pipe.XDel(ctx, q.stream, handle)
	_, err := pipe.Exec(ctx)
	return err
}

// Depth reports visible plus delayed messages.
func (q *Queue) Depth(ctx context.Context) (visible, delayed int64, err error) {
	pipe := q.rdb.Pipeline()
	xl := pipe.XLen(ctx, q.stream)
	zc := pipe.ZCard(ctx, q.delayed)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	return xl.Val(), zc.Val(), nil
}

var _ port.Queue = (*Queue)(nil)
