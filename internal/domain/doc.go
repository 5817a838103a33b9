// Package domain defines the core domain types and interfaces.
//
// Change events, wire envelopes and the contracts between the store adapter,
// the relay and the broadcaster live here. Keeps interfaces on the consumer
// side and prevents circular imports between adapters.
package domain
