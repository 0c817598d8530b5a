package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/bikera/location-consensus-validator/config"
)

// NewRedisClient creates a Redis client from global settings and verifies
// connectivity with a short ping.
func NewRedisClient() *redis.Client {
	settings := config.SettingsObj

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", settings.RedisHost, settings.RedisPort),
		Password: settings.RedisPassword,
		DB:       settings.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warnf("Redis ping failed (%s:%s): %v - continuing, mirror writes will be retried",
			settings.RedisHost, settings.RedisPort, err)
	} else {
		log.Infof("Connected to Redis at %s:%s (DB %d)", settings.RedisHost, settings.RedisPort, settings.RedisDB)
	}

	return client
}
