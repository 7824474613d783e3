package session

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendBadger   = "badger"
	BackendEtcd     = "etcd"
	BackendPostgres = "postgres"
)

// Config selects and configures a session backend.
type Config struct {
	Backend  string        `yaml:"backend"`
	MaxTurns int           `yaml:"max_turns"`
	TTL      time.Duration `yaml:"ttl"`
	Prefix   string        `yaml:"prefix"`

	// PurgeSchedule is the cron spec for the expiry janitor; empty disables it.
	PurgeSchedule string `yaml:"purge_schedule"`

	Redis    RedisConfig    `yaml:"redis"`
	Badger   BadgerConfig   `yaml:"badger"`
	Etcd     EtcdConfig     `yaml:"etcd"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BadgerConfig holds the embedded database location.
type BadgerConfig struct {
	Dir string `yaml:"dir"`
}

// EtcdConfig holds etcd connection settings.
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// PostgresConfig holds the Postgres connection string.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// Backends lists the accepted backend names.
func Backends() []string {
	return []string{BackendMemory, BackendRedis, BackendBadger, BackendEtcd, BackendPostgres}
}

func (c Config) options() []Option {
	opts := []Option{WithMaxTurns(c.MaxTurns), WithTTL(c.TTL)}
	if c.Prefix != "" {
		opts = append(opts, WithPrefix(c.Prefix))
	}
	return opts
}

// Open connects the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	opts := cfg.options()

	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(opts...), nil

	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		return NewRedisStore(client, opts...), nil

	case BackendBadger:
		return OpenBadgerStore(cfg.Badger.Dir, opts...)

	case BackendEtcd:
		dial := cfg.Etcd.DialTimeout
		if dial <= 0 {
			dial = 5 * time.Second
		}
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: dial,
			Context:     ctx,
		})
		if err != nil {
			return nil, fmt.Errorf("etcd connect: %w", err)
		}
		return NewEtcdStore(client, opts...), nil

	case BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		store, err := NewPostgresStore(ctx, pool, opts...)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
