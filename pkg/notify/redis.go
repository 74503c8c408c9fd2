package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPublisher relays change notifications onto redis pub/sub channels,
// one channel per kind: <prefix>:book_updated, <prefix>:order_updated,
// <prefix>:balance_updated.
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
	log    *zap.SugaredLogger
}

func NewRedisPublisher(rdb *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{
		rdb:    rdb,
		prefix: prefix,
		log:    zap.S().With("component", "redis_publisher"),
	}
}

// Run consumes updates until the channel closes or the context ends.
// Publish failures are logged and skipped; redis being down must not stall
// synchronization.
func (p *RedisPublisher) Run(ctx context.Context, updates <-chan Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(u)
			if err != nil {
				p.log.Warnw("marshal update", "err", err)
				continue
			}
			channel := p.prefix + ":" + string(u.Kind)
			if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
				p.log.Warnw("publish update", "channel", channel, "err", err)
			}
		}
	}
}
