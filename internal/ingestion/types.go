// Package ingestion defines the document lifecycle shared by the ingestion
// service, the Kafka event stream and the index consumer.
package ingestion

import "time"

// Op names the index mutation an event asks for.
type Op string

const (
	OpIndex   Op = "index"
	OpReindex Op = "reindex"
	OpRemove  Op = "remove"
)

func (o Op) Valid() bool {
	switch o {
	case OpIndex, OpReindex, OpRemove:
		return true
	}
	return false
}

// Document statuses as stored in the documents table.
const (
	StatusPending  = "PENDING"
	StatusIndexed  = "INDEXED"
	StatusRemoving = "REMOVING"
	StatusRemoved  = "REMOVED"
	StatusFailed   = "FAILED"
)

// DocumentRequest is the JSON body accepted for a document write.
type DocumentRequest struct {
	Content string `json:"content"`
}

// DocumentResponse is returned once a write has been accepted. Published is
// false when the content was unchanged and no event was emitted.
type DocumentResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	Published  bool   `json:"published"`
}

// DocumentEvent is the Kafka payload. Events are keyed by DocumentID so that
// all events of one document are consumed in order.
type DocumentEvent struct {
	Op         Op        `json:"op"`
	DocumentID string    `json:"document_id"`
	Content    string    `json:"content,omitempty"`
	EmittedAt  time.Time `json:"emitted_at"`
}
