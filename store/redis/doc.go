// Package redis implements the store backed by Redis for high-throughput
// deployments. Entities are stored as Hashes, the claim queue is a pair of
// Sorted Sets (ready and delayed), usage records and events are msgpack
// blobs indexed by Lists, and leadership is a single lease key.
//
// Single-key writes are atomic; multi-key writes go through TxPipeline.
// Read-modify-write sections have no row locks here, so concurrent
// mutations of one entity are last-writer-wins.
//
// The caller owns the Redis client lifecycle; the store never closes it:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
