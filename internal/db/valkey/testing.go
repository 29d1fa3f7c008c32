package valkey

import (
	"github.com/redis/rueidis"

	"github.com/kailas-cloud/policyrag/internal/db/redis"
)

// NewStoreForTest creates a Store with the provided rueidis client (test-only).
func NewStoreForTest(c rueidis.Client) *Store {
	return &Store{Store: redis.NewStoreFromClient(c)}
}
