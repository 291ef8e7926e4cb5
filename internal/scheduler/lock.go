package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"yield-points-system/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker 保证同一时刻至多一次收益计算
type Locker interface {
	TryLock(ctx context.Context) (unlock func(), ok bool, err error)
}

// LocalLocker 单实例部署时使用的进程内互斥
type LocalLocker struct {
	running int32
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

func (l *LocalLocker) TryLock(ctx context.Context) (func(), bool, error) {
	if !atomic.CompareAndSwapInt32(&l.running, 0, 1) {
		return nil, false, nil
	}
	return func() { atomic.StoreInt32(&l.running, 0) }, true, nil
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker 多实例部署时的分布式锁，TTL 防止持有者崩溃后锁不释放
// 持有期间每 ttl/3 续期一次，释放时停止续期
type RedisLocker struct {
	client     redis.UniversalClient
	key        string
	ttl        time.Duration
	renewEvery time.Duration
}

func NewRedisLocker(client redis.UniversalClient, key string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, key: key, ttl: ttl, renewEvery: ttl / 3}
}

func (l *RedisLocker) TryLock(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.keepAlive(token, stop, stopped)

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(stop)
			<-stopped

			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{l.key}, token).Err()
		})
	}
	return unlock, true, nil
}

func (l *RedisLocker) keepAlive(token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	if l.renewEvery <= 0 {
		return
	}

	ticker := time.NewTicker(l.renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			renewCtx, cancel := context.WithTimeout(context.Background(), l.renewEvery)
			renewed, err := renewScript.Run(renewCtx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				logger.WithFields(map[string]interface{}{
					"key":   l.key,
					"error": err,
				}).Warn("Failed to renew yield accrual lock")
				continue
			}
			if renewed == 0 {
				logger.WithFields(map[string]interface{}{
					"key": l.key,
				}).Warn("Yield accrual lock lost before run finished")
				return
			}
		}
	}
}
