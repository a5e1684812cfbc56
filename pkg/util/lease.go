package util

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is an advisory Redis lock with an owner and a TTL.
type Lease struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewLease(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Lease {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lease{rdb: rdb, ttl: ttl, logger: logger}
}

// Acquire tries to take key for owner.
// returns true if the lease is ours, false if someone else holds it
func (l *Lease) Acquire(ctx context.Context, key, owner string) bool {
	ok, err := l.rdb.SetNX(ctx, key, owner, l.ttl).Result()
	if err != nil {
		// Redis 不可用时不阻止处理：写入是幂等的
		l.logger.Warn("Redis lease acquire failed, proceeding without lease",
			zap.String("lease_key", key),
			zap.String("owner", owner),
			zap.Error(err),
		)
		return true
	}
	if !ok {
		holder, _ := l.rdb.Get(ctx, key).Result()
		l.logger.Info("Lease held by another owner",
			zap.String("lease_key", key),
			zap.String("owner", owner),
			zap.String("holder", holder),
		)
	}
	return ok
}

// Release drops the lease if owner still holds it.
func (l *Lease) Release(ctx context.Context, key, owner string) {
	if err := releaseScript.Run(ctx, l.rdb, []string{key}, owner).Err(); err != nil && err != redis.Nil {
		l.logger.Warn("Redis lease release failed",
			zap.String("lease_key", key),
			zap.String("owner", owner),
			zap.Error(err),
		)
	}
}

// FormatSyncLeaseKey formats the per-account sync lease key
func FormatSyncLeaseKey(accountID int) string {
	return "triage:sync:" + itoa(accountID)
}
