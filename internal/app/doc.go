// Package app provides the application service layer.
//
// Relay glues the change listener and the connection acceptor to the broadcast hub: live
// changes become db_event envelopes, new subscribers get an init snapshot. Snapshot reads go
// through a circuit breaker so a failing store is not hammered by every new connection.
// Depends on domain interfaces, not concrete implementations.
package app
