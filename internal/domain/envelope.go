package domain

import "encoding/json"

// EnvelopeType discriminates wire messages. Consumers ignore types they do
// not recognize.
type EnvelopeType string

const (
	EnvelopeInit    EnvelopeType = "init"
	EnvelopeDBEvent EnvelopeType = "db_event"
)

// Envelope is the top-level message written to subscribers.
type Envelope struct {
	Type      EnvelopeType    `json:"type"`
	Operation Operation       `json:"operation,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// InitEnvelope wraps a bootstrap snapshot. An empty snapshot encodes as [].
func InitEnvelope(records []Record) (Envelope, error) {
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: EnvelopeInit, Data: data}, nil
}

// EventEnvelope wraps a single live change.
func EventEnvelope(ev ChangeEvent) Envelope {
	return Envelope{Type: EnvelopeDBEvent, Operation: ev.Operation, Data: json.RawMessage(ev.Record)}
}
