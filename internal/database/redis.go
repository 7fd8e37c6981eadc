package database

import (
	"context"

	"github.com/campusmart/backend/internal/logger"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

// RedisOptions returns the connection options shared by the cache client and the job queue
func RedisOptions() *redis.Options {
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	return &redis.Options{
		Addr:     viper.GetString("redis.host") + ":" + viper.GetString("redis.port"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	}
}

// InitRedis initializes Redis client with config. A nil client means the
// wallet runs without leases and caches.
func InitRedis() *redis.Client {
	rdb := redis.NewClient(RedisOptions())

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warnf("Redis connection failed, continuing without Redis: %v", err)
		return nil
	}

	logger.Info("Redis connection established")
	return rdb
}
