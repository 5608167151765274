package conquest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/r3e-forge/conquest/pkg/logger"
)

// LeaderboardCache is a short-TTL read-through cache for leaderboard
// pages, backed by Redis. Cache failures degrade to store reads.
type LeaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewLeaderboardCache creates a cache with the given TTL. A TTL of 0
// defaults to 10 seconds.
func NewLeaderboardCache(client *redis.Client, ttl time.Duration, log *logger.Logger) *LeaderboardCache {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("leaderboard-cache")
	}
	return &LeaderboardCache{client: client, ttl: ttl, log: log}
}

func cacheKey(sessionID string, limit, offset int) string {
	return fmt.Sprintf("conquest:leaderboard:%s:%d:%d", sessionID, limit, offset)
}

// Get returns a cached page, or false on miss or error.
func (c *LeaderboardCache) Get(ctx context.Context, sessionID string, limit, offset int) ([]LeaderboardEntry, bool) {
	data, err := c.client.Get(ctx, cacheKey(sessionID, limit, offset)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Warn("leaderboard cache read failed")
		}
		return nil, false
	}

	var entries []LeaderboardEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

// Set stores a page. Errors are logged and ignored.
func (c *LeaderboardCache) Set(ctx context.Context, sessionID string, limit, offset int, entries []LeaderboardEntry) {
	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(sessionID, limit, offset), data, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("leaderboard cache write failed")
	}
}
