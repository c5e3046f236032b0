package utils

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cppla/engage/config"
)

var redisClient *redis.Client

// InitRedis creates the shared client. RedisHost "none" disables Redis and
// every helper falls back to its in-process path.
func InitRedis(cfg config.AppConfig) *redis.Client {
	if cfg.RedisHost == "" || cfg.RedisHost == "none" {
		return nil
	}
	redisClient = redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.RedisHost, strconv.Itoa(cfg.RedisPort)),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		Sugar.Warnf("redis ping failed, continuing without warm connection: %v", err)
	}
	return redisClient
}

// GetRedis returns the shared client or nil when Redis is not configured.
func GetRedis() *redis.Client {
	return redisClient
}
