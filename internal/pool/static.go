// Package pool implements the two connection pools the gateway needs
// over go-redis: a small shared multiplexed client for short commands,
// and a bounded pool of single-owner connections for blocking reads and
// ingest. The exclusive pool is this package's Go-native stand-in for
// tinistream's deadpool::managed::Pool (see redis.rs in the original
// source): go-redis already multiplexes internally, so "exclusive" here
// means a *redis.Client configured with PoolSize 1, checked out to
// exactly one goroutine for its lifetime.
package pool

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// CommandTimeout bounds every static-pool command and every exclusive
// pool acquisition, per the concurrency model's 6s default.
const CommandTimeout = 6 * time.Second

// NewStatic builds the shared multiplexed client used for every
// operation except blocking reads and streaming ingest.
func NewStatic(redisURL string, poolSize int) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	opts.PoolSize = poolSize
	opts.DialTimeout = CommandTimeout
	opts.ReadTimeout = CommandTimeout
	opts.WriteTimeout = CommandTimeout
	return redis.NewClient(opts), nil
}
