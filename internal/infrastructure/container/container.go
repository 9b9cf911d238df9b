package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"pfingest/internal/application/port"
	"pfingest/internal/infrastructure/awsconf"
	"pfingest/internal/infrastructure/blob/fsblob"
	"pfingest/internal/infrastructure/blob/s3blob"
	"pfingest/internal/infrastructure/cache"
	"pfingest/internal/infrastructure/config"
	"pfingest/internal/infrastructure/heartbeat"
	"pfingest/internal/infrastructure/metrics"
	"pfingest/internal/infrastructure/queue/redisqueue"
	"pfingest/internal/infrastructure/queue/sqsqueue"
	"pfingest/internal/infrastructure/storage/postgres"
	"pfingest/internal/infrastructure/storage/sqlite"
	"pfingest/internal/infrastructure/storage/sqlstore"
	"pfingest/internal/pkg/backoff"
)

// HealthCheck reports a dependency's state; detail may be nil.
type HealthCheck func(ctx context.Context) (detail any, err error)

// Container 包含所有基础设施依赖
type Container struct {
	cfg         *config.Config
	store       *sqlstore.Store
	redisClient *redis.Client
	awsCfg      *aws.Config
	queue       port.Queue
	deadLetter  port.Publisher
	objects     port.ObjectStore
	heartbeat   port.Heartbeat
	metrics     *metrics.Ingest
	cache       *cache.Cache
	checks      map[string]HealthCheck
	closeOnce   sync.Once
	closerChain []func() error
}

// New 创建新的容器实例; on failure everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{
		cfg:         cfg,
		checks:      map[string]HealthCheck{},
		closerChain: make([]func() error, 0),
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"database", c.initStore},
		{"redis", c.initRedis},
		{"queue", c.initQueue},
		{"blob", c.initBlob},
		{"heartbeat", c.initHeartbeat},
		{"cache", c.initCache},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("%s init failed: %w", s.name, err)
		}
	}
	c.metrics = metrics.New()
	return c, nil
}

// initStore 打开 SQLite 或 Postgres 并迁移表结构
func (c *Container) initStore(ctx context.Context) error {
	db := c.cfg.Database
	var store *sqlstore.Store
	err := backoff.Do(ctx, backoff.Default, func(ctx context.Context, attempt int) error {
		var err error
		switch db.Driver {
		case "postgres":
			store, err = postgres.New(ctx, db.DSN, postgres.Options{
				MaxOpenConns:    db.MaxOpenConns,
				MaxIdleConns:    db.MaxIdleConns,
				ConnMaxLifetime: time.Duration(db.ConnMaxLifetimeSec) * time.Second,
			})
		default:
			store, err = sqlite.New(ctx, db.Path)
			err = backoff.Permanent(err)
		}
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Str("driver", db.Driver).Msg("database not ready")
		}
		return err
	})
	if err != nil {
		return err
	}

	c.store = store
	c.checks["database"] = func(ctx context.Context) (any, error) { return nil, store.Ping(ctx) }
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing database")
		return store.Close()
	})

	log.Info().Str("driver", db.Driver).Msg("database initialized")
	return nil
}

// initRedis 初始化 Redis 连接; skipped when no address is configured
func (c *Container) initRedis(ctx context.Context) error {
	if c.cfg.Redis.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.cfg.Redis.Addr,
		Password: c.cfg.Redis.Password,
		DB:       c.cfg.Redis.DB,
	})
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	err := backoff.Do(ctx, backoff.Default, func(ctx context.Context, attempt int) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err()
	})
	if err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	c.redisClient = rdb
	c.checks["redis"] = func(ctx context.Context) (any, error) { return nil, rdb.Ping(ctx).Err() }

	log.Info().
		Str("addr", c.cfg.Redis.Addr).
		Int("db", c.cfg.Redis.DB).
		Msg("redis initialized")
	return nil
}

func (c *Container) awsConfig(ctx context.Context) (aws.Config, error) {
	if c.awsCfg != nil {
		return *c.awsCfg, nil
	}
	cfg, err := awsconf.Load(ctx, c.awsOptions())
	if err != nil {
		return aws.Config{}, err
	}
	c.awsCfg = &cfg
	return cfg, nil
}

func (c *Container) awsOptions() awsconf.Options {
	return awsconf.Options{Region: c.cfg.AWS.Region, Endpoint: c.cfg.AWS.Endpoint}
}

func (c *Container) initQueue(ctx context.Context) error {
	q := c.cfg.Queue
	switch q.Driver {
	case "sqs":
		awsCfg, err := c.awsConfig(ctx)
		if err != nil {
			return err
		}
		ep := c.awsOptions().EndpointFor()
		client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) { o.BaseEndpoint = ep })
		primary, err := sqsqueue.New(client, q.Name, c.cfg.Visibility())
		if err != nil {
			return err
		}
		dlq, err := sqsqueue.New(client, q.DeadLetter, 0)
		if err != nil {
			return err
		}
		c.queue, c.deadLetter = primary, dlq
	default:
		if c.redisClient == nil {
			return fmt.Errorf("queue driver redis needs redis.addr")
		}
		primary, err := redisqueue.New(ctx, c.redisClient, redisqueue.Options{
			Stream:            q.Name,
			Group:             q.Group,
			Consumer:          c.cfg.App.WorkerID,
			VisibilityTimeout: c.cfg.Visibility(),
		})
		if err != nil {
			return err
		}
		dlq, err := redisqueue.New(ctx, c.redisClient, redisqueue.Options{
			Stream: q.DeadLetter,
			Group:  q.Group,
		})
		if err != nil {
			return err
		}
		c.queue, c.deadLetter = primary, dlq
		c.checks["queue"] = func(ctx context.Context) (any, error) {
			visible, delayed, err := primary.Depth(ctx)
			return map[string]int64{"visible": visible, "delayed": delayed}, err
		}
	}

	log.Info().
		Str("driver", q.Driver).
		Str("queue", q.Name).
		Str("dead_letter", q.DeadLetter).
		Msg("queue initialized")
	return nil
}

func (c *Container) initBlob(ctx context.Context) error {
	b := c.cfg.Blob
	switch b.Driver {
	case "s3":
		awsCfg, err := c.awsConfig(ctx)
		if err != nil {
			return err
		}
		ep := c.awsOptions().EndpointFor()
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if ep != nil {
				o.BaseEndpoint = ep
				o.UsePathStyle = true
			}
		})
		store, err := s3blob.New(client, b.Bucket)
		if err != nil {
			return err
		}
		c.objects = store
	default:
		store, err := fsblob.New(b.Dir)
		if err != nil {
			return err
		}
		c.objects = store
	}
	log.Info().Str("driver", b.Driver).Msg("blob store initialized")
	return nil
}

func (c *Container) initHeartbeat(context.Context) error {
	beats := []port.Heartbeat{heartbeat.NewLog(c.cfg.App.WorkerID)}
	if c.redisClient != nil {
		ttl := 3 * c.cfg.HeartbeatInterval()
		beats = append(beats, heartbeat.NewRedis(c.redisClient, c.cfg.Redis.Prefix, c.cfg.App.WorkerID, ttl))
	}
	c.heartbeat = heartbeat.NewComposite(beats...)
	return nil
}

func (c *Container) initCache(context.Context) error {
	ch, err := cache.New(c.cfg.Cache.MaxItems, c.cfg.CacheTTL())
	if err != nil {
		return err
	}
	c.cache = ch
	c.closerChain = append(c.closerChain, func() error {
		ch.Close()
		return nil
	})
	return nil
}

// Config 获取配置
func (c *Container) Config() *config.Config { return c.cfg }

func (c *Container) Store() *sqlstore.Store { return c.store }

// RedisClient 获取 Redis 客户端, nil when redis is not configured
func (c *Container) RedisClient() *redis.Client { return c.redisClient }

func (c *Container) Queue() port.Queue { return c.queue }

func (c *Container) DeadLetter() port.Publisher { return c.deadLetter }

func (c *Container) Objects() port.ObjectStore { return c.objects }

func (c *Container) Heartbeat() port.Heartbeat { return c.heartbeat }

func (c *Container) Metrics() *metrics.Ingest { return c.metrics }

func (c *Container) Cache() *cache.Cache { return c.cache }

func (c *Container) HealthChecks() map[string]HealthCheck { return c.checks }

// Close 关闭所有资源（按后进先出顺序）
func (c *Container) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for i := len(c.closerChain) - 1; i >= 0; i-- {
			if e := c.closerChain[i](); e != nil {
				log.Error().Err(e).Msg("error closing resource")
				if err == nil {
					err = e
				}
			}
		}
		log.Info().Msg("container closed")
	})
	return err
}
