package domain

import "errors"

var (
	// ErrStore marks a failed query against the backing store. The relay
	// keeps running; only the caller of that query sees it.
	ErrStore = errors.New("store error")
	// ErrDecode marks a malformed notification or inbound client frame.
	ErrDecode = errors.New("decode error")
	// ErrSubscriberNotFound is returned when addressing an evicted subscriber.
	ErrSubscriberNotFound = errors.New("subscriber not found")
)
