//go:build !noredis

package vecswitch

import (
	"github.com/hupe1980/vecswitch/index"
	"github.com/hupe1980/vecswitch/index/redis"
)

func init() {
	register(index.EngineRedis, redis.Constructor)
}
