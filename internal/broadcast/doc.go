// Package broadcast implements the WebSocket fan-out core.
//
// The Registry owns the set of live subscribers and their liveness flags. The Hub serializes each
// envelope once and enqueues the same bytes to every subscriber. Per-subscriber writer goroutines
// keep delivery ordered and keep one slow connection from stalling the others. The Monitor runs the
// mark-then-sweep ping cycle and is the only component that evicts unresponsive or faulted subscribers.
package broadcast
