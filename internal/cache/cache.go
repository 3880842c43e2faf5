// Package cache provides the keyed byte cache the read paths sit on. The
// backing store is injected so tests run against the in-memory implementation
// while deployments may point at redis.
package cache

import (
	"context"
	"time"
)

// Store is the cache contract: opaque bytes under string keys with a TTL.
// Invalidate removes every key under the given prefix, which is how the
// orchestrator drops a member's cached reads after a rebuild.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Invalidate(ctx context.Context, prefix string)
}

// MemberPrefix builds the key prefix under which all of one member's cached
// payloads live.
func MemberPrefix(memberID string) string {
	return "member:" + memberID + ":"
}
