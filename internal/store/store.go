// Package store is the only point of contact between the index and the
// key-value store holding it. It exposes membership sets, weighted (sorted)
// sets with union and descending range, and single-round-trip batches.
//
// Two backends implement Store: Redis, for shared deployments, and Memory,
// an in-process equivalent with identical ordering and emptiness semantics.
package store

import (
	"context"
	"time"
)

// OpKind identifies a write inside a Batch.
type OpKind int

const (
	OpSetAdd OpKind = iota
	OpSetRemove
	OpWeightedUpsert
	OpWeightedRemove
	OpDeleteKey
)

func (k OpKind) String() string {
	switch k {
	case OpSetAdd:
		return "sadd"
	case OpSetRemove:
		return "srem"
	case OpWeightedUpsert:
		return "zadd"
	case OpWeightedRemove:
		return "zrem"
	case OpDeleteKey:
		return "del"
	default:
		return "unknown"
	}
}

// Op is one write applied by Store.Batch.
type Op struct {
	Kind   OpKind
	Key    string
	Member string
	Weight float64
}

func SetAdd(key, member string) Op {
	return Op{Kind: OpSetAdd, Key: key, Member: member}
}

func SetRemove(key, member string) Op {
	return Op{Kind: OpSetRemove, Key: key, Member: member}
}

func WeightedUpsert(key, member string, weight float64) Op {
	return Op{Kind: OpWeightedUpsert, Key: key, Member: member, Weight: weight}
}

func WeightedRemove(key, member string) Op {
	return Op{Kind: OpWeightedRemove, Key: key, Member: member}
}

func DeleteKey(key string) Op {
	return Op{Kind: OpDeleteKey, Key: key}
}

// ScoredMember is one entry of a weighted set.
type ScoredMember struct {
	Member string
	Score  float64
}

// Store is the narrow set of key-value primitives the indexer and the query
// engine consume. Sets that become empty cease to exist.
type Store interface {
	// Batch applies ops in order within a single round trip. Atomicity
	// across keys is backend specific.
	Batch(ctx context.Context, ops ...Op) error

	SetCardinality(ctx context.Context, key string) (int64, error)
	SetMembers(ctx context.Context, key string) ([]string, error)

	WeightedCardinality(ctx context.Context, key string) (int64, error)
	// WeightedCardinalities returns one cardinality per key, in key order,
	// within a single round trip.
	WeightedCardinalities(ctx context.Context, keys ...string) ([]int64, error)

	// UnionWeighted replaces dest with the union of the source weighted sets,
	// scoring each member by the sum of score*multiplier over the sources
	// holding it, and returns the cardinality of dest. A positive ttl expires
	// dest store-side.
	UnionWeighted(ctx context.Context, dest string, weights map[string]float64, ttl time.Duration) (int64, error)

	// RangeDescending returns up to count members of key starting at offset,
	// ordered by score descending and then by member descending.
	RangeDescending(ctx context.Context, key string, offset, count int64) ([]ScoredMember, error)

	DeleteKey(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}
