package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/salesorg/modules/org"
	"github.com/iota-uz/salesorg/modules/org/infrastructure/legacy"
	"github.com/iota-uz/salesorg/modules/org/infrastructure/locks"
	"github.com/iota-uz/salesorg/modules/org/infrastructure/persistence"
	"github.com/iota-uz/salesorg/modules/org/migration"
	"github.com/iota-uz/salesorg/modules/org/services"
	"github.com/iota-uz/salesorg/pkg/composables"
	"github.com/iota-uz/salesorg/pkg/configuration"
	"github.com/iota-uz/salesorg/pkg/metrics"
)

const (
	storePostgres = "postgres"
	storeMemory   = "memory"
)

type globalOptions struct {
	store string
	seed  string
}

// loadConfig is swapped in tests.
var loadConfig = configuration.Use

// app is everything a command needs once flags are parsed. ctx carries the
// logger and, for postgres, the pool.
type app struct {
	ctx     context.Context
	conf    *configuration.Configuration
	org     *org.Module
	closers []func()
}

func (a *app) Close() {
	if a.conf.Prometheus.Enabled {
		w := metrics.NewTextfileWriter(a.conf.Prometheus.Path, nil)
		if err := w.Write(); err != nil {
			a.logger().WithError(err).Warn("write metrics textfile")
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) logger() *logrus.Entry {
	return composables.UseLogger(a.ctx)
}

func openApp(ctx context.Context, g *globalOptions, command string) (*app, error) {
	conf := loadConfig()
	entry := logrus.NewEntry(conf.Logger()).WithField("command", command)
	a := &app{
		ctx:  composables.WithLogger(ctx, entry),
		conf: conf,
	}

	store, err := a.openStore(g)
	if err != nil {
		a.Close()
		return nil, err
	}
	locker, err := a.openLocker()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.org = org.NewModule(store, locker, services.OptionsFromConfig(conf))

	if stringsTrim(g.seed) != "" {
		if err := a.seed(g.seed); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openStore(g *globalOptions) (services.Store, error) {
	switch stringsTrim(g.store) {
	case storeMemory:
		return persistence.NewMemoryStore(), nil
	case storePostgres, "":
		if stringsTrim(g.seed) != "" {
			return nil, withCode(exitUsage, fmt.Errorf("--seed requires --store=%s", storeMemory))
		}
		pool, err := connectDB(a.ctx, a.conf.Database.Opts)
		if err != nil {
			return nil, withCode(exitDB, err)
		}
		a.closers = append(a.closers, pool.Close)
		a.ctx = composables.WithPool(a.ctx, pool)
		return persistence.NewPgStore(), nil
	default:
		return nil, withCode(exitUsage, fmt.Errorf("invalid --store %q (expected %s|%s)", g.store, storePostgres, storeMemory))
	}
}

func (a *app) openLocker() (services.UnitLocker, error) {
	if a.conf.Org.LockBackend != configuration.LockBackendRedis {
		return locks.NewLocalLocker(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: a.conf.RedisURL})
	a.closers = append(a.closers, func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, withCode(exitDB, fmt.Errorf("redis connect failed: %w", err))
	}
	return locks.NewRedisLocker(client, a.conf.Org.LockTTL), nil
}

func (a *app) seed(path string) error {
	src, err := legacy.LoadFixture(path)
	if err != nil {
		return withCode(exitUsage, err)
	}
	res, err := a.org.Migrator(src).MigrateLegacyHierarchy(a.ctx, migration.Options{})
	if err != nil {
		return withCode(exitDBWrite, err)
	}
	a.logger().WithField("summary", res.Summary).Debug("seeded memory store")
	return nil
}

func connectDB(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db connect failed: %w", err)
	}
	return pool, nil
}
