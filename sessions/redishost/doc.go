// Package redishost provides a Redis-backed implementation of
// sessions.Store. Session records are stored as JSON blobs under a
// configurable key prefix with a ZSET expiry index, so multiple relay
// instances can share one session space.
package redishost
