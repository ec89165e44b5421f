package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"flipwatch/internal/application/port"
	"flipwatch/internal/infrastructure/config"
	pgrepo "flipwatch/internal/infrastructure/storage/postgres"
	redisrepo "flipwatch/internal/infrastructure/storage/redis"
	sqliterepo "flipwatch/internal/infrastructure/storage/sqlite"
)

// Container 持有所有存储连接
type Container struct {
	cfg          *config.Config
	redisClient  *redis.Client
	sqliteRepo   *sqliterepo.Repo
	redisRepo    *redisrepo.Repo
	postgresRepo *pgrepo.Repo
	closeOnce    sync.Once
	closerChain  []func() error
}

// New 创建新的容器实例；SQLite 总是启用
func New(cfg *config.Config) (*Container, error) {
	c := &Container{
		cfg:         cfg,
		closerChain: make([]func() error, 0),
	}

	if err := c.initStorage(); err != nil {
		// 清理已初始化的资源
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// initStorage 初始化存储层（SQLite、Redis、Postgres）
func (c *Container) initStorage() error {
	if err := c.initSQLite(); err != nil {
		return fmt.Errorf("sqlite init failed: %w", err)
	}

	if c.cfg.Storage.Redis.Enabled {
		if err := c.initRedis(); err != nil {
			return fmt.Errorf("redis init failed: %w", err)
		}
	}

	if c.cfg.Storage.Postgres.Enabled {
		if err := c.initPostgres(); err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
	}

	return nil
}

// initRedis 初始化 Redis 连接
func (c *Container) initRedis() error {
	rc := c.cfg.Storage.Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	c.redisClient = rdb
	c.redisRepo = redisrepo.New(rdb, rc.Prefix, c.cfg.LockTTL(), rc.NotifyStream, rc.NotifyChannel)

	// 注册关闭回调
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", rc.Addr).
		Int("db", rc.DB).
		Msg("redis initialized")

	return nil
}

// initSQLite 初始化 SQLite 数据库
func (c *Container) initSQLite() error {
	repo, err := sqliterepo.New(c.cfg.Storage.SQLite.Path)
	if err != nil {
		return err
	}

	c.sqliteRepo = repo

	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})

	log.Info().
		Str("path", c.cfg.Storage.SQLite.Path).
		Msg("sqlite initialized")

	return nil
}

// initPostgres 初始化业务库只读连接
func (c *Container) initPostgres() error {
	repo, err := pgrepo.New(c.cfg.Storage.Postgres.DSN)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return fmt.Errorf("postgres ping failed: %w", err)
	}

	c.postgresRepo = repo
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing postgres connection")
		return repo.Close()
	})

	log.Info().Msg("postgres initialized")
	return nil
}

// Config 获取配置
func (c *Container) Config() *config.Config {
	return c.cfg
}

// RedisClient 获取 Redis 客户端
func (c *Container) RedisClient() *redis.Client {
	return c.redisClient
}

// RedisRepo 获取 Redis 仓储，未启用时为 nil
func (c *Container) RedisRepo() *redisrepo.Repo {
	return c.redisRepo
}

// SQLiteRepo 获取 SQLite 仓储
func (c *Container) SQLiteRepo() *sqliterepo.Repo {
	return c.sqliteRepo
}

// PostgresRepo 获取业务库仓储，未启用时为 nil
func (c *Container) PostgresRepo() *pgrepo.Repo {
	return c.postgresRepo
}

// OpsReader 按 ops.backend 选择业务数据来源
func (c *Container) OpsReader() port.OpsReader {
	if c.cfg.Ops.Backend == "postgres" && c.postgresRepo != nil {
		return c.postgresRepo
	}
	return sqliterepo.NewOpsRepo(c.sqliteRepo.GetDB())
}

// Ping 检查所有已启用的连接
func (c *Container) Ping(ctx context.Context) error {
	if err := c.sqliteRepo.Ping(ctx); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if c.redisRepo != nil {
		if err := c.redisRepo.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if c.postgresRepo != nil {
		if err := c.postgresRepo.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}

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
