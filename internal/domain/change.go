package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Operation is the kind of row change carried by a ChangeEvent.
type Operation string

const (
	OperationInsert   Operation = "insert"
	OperationUpdate   Operation = "update"
	OperationDelete   Operation = "delete"
	OperationSnapshot Operation = "snapshot"
)

// ParseOperation normalizes a raw operation name. PostgreSQL's TG_OP is
// upper case, so matching is case-insensitive.
func ParseOperation(s string) (Operation, bool) {
	switch op := Operation(strings.ToLower(strings.TrimSpace(s))); op {
	case OperationInsert, OperationUpdate, OperationDelete, OperationSnapshot:
		return op, true
	default:
		return "", false
	}
}

// Record is a single row as a JSON object. Its shape is owned by the store.
type Record = json.RawMessage

// ChangeEvent is one decoded notification from the change source.
type ChangeEvent struct {
	Operation Operation
	Record    Record
}

type notificationPayload struct {
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data"`
}

// DecodeChangeEvent parses a raw notification payload of the form
// {"operation": "...", "data": {...}}. Every failure wraps ErrDecode.
func DecodeChangeEvent(payload []byte) (ChangeEvent, error) {
	var p notificationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	op, ok := ParseOperation(p.Operation)
	if !ok {
		return ChangeEvent{}, fmt.Errorf("%w: unknown operation %q", ErrDecode, p.Operation)
	}

	data := bytes.TrimSpace(p.Data)
	if len(data) == 0 || data[0] != '{' {
		return ChangeEvent{}, fmt.Errorf("%w: data must be a JSON object", ErrDecode)
	}

	return ChangeEvent{Operation: op, Record: Record(data)}, nil
}
