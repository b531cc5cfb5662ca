package store

import "github.com/google/uuid"

// Keyspace names every logical key of one index namespace.
//
// The membership key carries a trailing colon. Terms never contain a colon,
// so no posting key can alias it.
type Keyspace struct {
	Prefix string
}

func NewKeyspace(prefix string) Keyspace {
	return Keyspace{Prefix: prefix}
}

func (k Keyspace) Membership() string {
	return k.Prefix + "indexed:"
}

func (k Keyspace) Postings(term string) string {
	return k.Prefix + term
}

func (k Keyspace) DocTerms(docID string) string {
	return k.Prefix + "doc:" + docID
}

// Scratch returns a fresh, collision-free name for a per-query union result.
func (k Keyspace) Scratch() string {
	return k.Prefix + "temp:" + uuid.NewString()
}

func (k Keyspace) ScratchPattern() string {
	return k.Prefix + "temp:*"
}

func (k Keyspace) Cache(suffix string) string {
	return k.Prefix + "cache:" + suffix
}

func (k Keyspace) CachePattern() string {
	return k.Prefix + "cache:*"
}
