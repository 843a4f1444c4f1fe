package ledger

import (
	"context"
	"sync"
	"time"

	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLockerConfig 描述分布式账户锁的连接参数。
type RedisLockerConfig struct {
	Address       string
	Password      string
	DB            int
	Prefix        string
	TTL           time.Duration
	RetryInterval time.Duration
	Timeout       time.Duration
}

// RedisLocker 使用 SET NX PX 实现跨进程的账户锁，多个 awed 实例共享同一账本时使用。
// 持有期间每 TTL/3 续期一次；续期发现锁已易主或超过 TTL 未能续期时，Lease.Err 返回错误。
type RedisLocker struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	retry   time.Duration
	timeout time.Duration
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
        return redis.call("DEL", KEYS[1])
end
return 0`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
        return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// NewRedisLocker 创建 RedisLocker 并校验连接。
func NewRedisLocker(ctx context.Context, cfg RedisLockerConfig) (*RedisLocker, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return newRedisLocker(client, cfg), nil
}

func newRedisLocker(client redis.UniversalClient, cfg RedisLockerConfig) *RedisLocker {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "awe:lock:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = 20 * time.Millisecond
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, retry: retry, timeout: cfg.Timeout}
}

func (l *RedisLocker) key(addr address.Address) string {
	return l.prefix + addr.String()
}

// Acquire 实现 Locker 接口。
func (l *RedisLocker) Acquire(ctx context.Context, keys []address.Address) (Lease, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	token := uuid.NewString()
	ordered := address.SortUnique(keys)
	held := make([]string, 0, len(ordered))
	release := func() {
		// 释放不应受调用方 ctx 取消影响。
		bg, cancel := context.WithTimeout(context.Background(), l.ttl)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = releaseScript.Run(bg, l.client, []string{held[i]}, token).Err()
		}
	}

	for _, addr := range ordered {
		key := l.key(addr)
		for {
			ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
			if err != nil {
				release()
				if ctx.Err() != nil {
					return nil, xerrors.Wrap(xerrors.CodeLockTimeout, ctx.Err(), "获取账户锁超时")
				}
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 加锁失败")
			}
			if ok {
				held = append(held, key)
				break
			}
			select {
			case <-ctx.Done():
				release()
				return nil, xerrors.Wrap(xerrors.CodeLockTimeout, ctx.Err(), "获取账户锁超时", xerrors.WithMetadata("account", addr.String()))
			case <-time.After(l.retry):
			}
		}
	}

	extend := func(ctx context.Context) (bool, error) {
		for _, key := range held {
			n, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			if err != nil {
				return false, err
			}
			if n == 0 {
				return false, nil
			}
		}
		return true, nil
	}
	return startRedisLease(l.ttl, extend, release), nil
}

// redisLease 在持有期间定期续期全部键。
type redisLease struct {
	ttl     time.Duration
	extend  func(ctx context.Context) (bool, error)
	release func()

	stop chan struct{}
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

func startRedisLease(ttl time.Duration, extend func(ctx context.Context) (bool, error), release func()) *redisLease {
	lease := &redisLease{
		ttl:     ttl,
		extend:  extend,
		release: release,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go lease.watch()
	return lease
}

func (l *redisLease) watch() {
	defer close(l.done)
	interval := l.ttl / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	renewed := time.Now()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		ok, err := l.extend(ctx)
		cancel()
		switch {
		case err == nil && ok:
			renewed = time.Now()
		case err == nil:
			l.fail(xerrors.New(xerrors.CodeLockTimeout, "账户锁已过期并被其他持有者获取"))
			return
		case time.Since(renewed) >= l.ttl:
			l.fail(xerrors.Wrap(xerrors.CodeLockTimeout, err, "账户锁续期失败，锁已过期"))
			return
		}
	}
}

func (l *redisLease) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err == nil {
		l.err = err
	}
}

// Err 实现 Lease 接口。
func (l *redisLease) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Release 实现 Lease 接口：先停止续期，再删除仍归本次持有的键。
func (l *redisLease) Release() {
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		l.release()
	})
}

// Close 关闭 Redis 连接。
func (l *RedisLocker) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}

var _ Locker = (*RedisLocker)(nil)
