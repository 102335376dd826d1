package locks

import (
	"context"
	"sync"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockTimeout = gerrors.New("timed out waiting for unit lock")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker serializes structural writes on a unit across processes.
// Reads are not locked here; they rely on the store's snapshot isolation.
// A held lock is extended every ttl/3 until released, so ttl only bounds how
// long a crashed holder keeps the unit blocked.
type RedisLocker struct {
	client    redis.UniversalClient
	prefix    string
	ttl       time.Duration
	retry     time.Duration
	maxWait   time.Duration
	readLocal *LocalLocker
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		client:    client,
		prefix:    "salesorg:unit-lock:",
		ttl:       ttl,
		retry:     50 * time.Millisecond,
		maxWait:   ttl,
		readLocal: NewLocalLocker(),
	}
}

func (l *RedisLocker) key(unitID uuid.UUID) string {
	return l.prefix + unitID.String()
}

func (l *RedisLocker) LockUnit(ctx context.Context, unitID uuid.UUID) (func(), error) {
	key := l.key(unitID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.maxWait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, gerrors.Wrap(err, "acquire unit lock")
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, gerrors.Wrapf(ErrLockTimeout, "unit %s", unitID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	unlockLocal, err := l.readLocal.LockUnit(ctx, unitID)
	if err != nil {
		_ = releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Err()
		return nil, err
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(context.WithoutCancel(ctx), key, token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			unlockLocal()
			_ = releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Err()
		})
	}, nil
}

// keepAlive pushes the lock expiry forward until stop is closed or the token
// no longer owns the key.
func (l *RedisLocker) keepAlive(ctx context.Context, key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int64()
			if err == nil && n == 0 {
				return
			}
		}
	}
}

// RLockUnit only excludes writers of this process.
func (l *RedisLocker) RLockUnit(ctx context.Context, unitID uuid.UUID) (func(), error) {
	return l.readLocal.RLockUnit(ctx, unitID)
}
