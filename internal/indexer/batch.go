package indexer

import "github.com/Adithya-Monish-Kumar-K/kvsearch/internal/store"

// batch accumulates the writes of one document mutation. Index and Remove
// build theirs from the same steps so the key layout lives in one place.
type batch struct {
	keys  store.Keyspace
	docID string
	ops   []store.Op
}

func newBatch(keys store.Keyspace, docID string) *batch {
	return &batch{keys: keys, docID: docID}
}

func (b *batch) join() {
	b.ops = append(b.ops, store.SetAdd(b.keys.Membership(), b.docID))
}

func (b *batch) leave() {
	b.ops = append(b.ops, store.SetRemove(b.keys.Membership(), b.docID))
}

// dropBackRefs must precede addPosting when replacing the term set.
func (b *batch) dropBackRefs() {
	b.ops = append(b.ops, store.DeleteKey(b.keys.DocTerms(b.docID)))
}

func (b *batch) addPosting(term string, weight float64) {
	b.ops = append(b.ops,
		store.WeightedUpsert(b.keys.Postings(term), b.docID, weight),
		store.SetAdd(b.keys.DocTerms(b.docID), term),
	)
}

func (b *batch) removePosting(term string) {
	b.ops = append(b.ops, store.WeightedRemove(b.keys.Postings(term), b.docID))
}
