// Package store groups the core.Gateway implementations: memstore keeps
// everything in process memory, pebblestore persists to a Pebble key/value
// database. Both enforce the same uniqueness and ordering rules, verified by
// the shared conformance suite in internal/storetest.
package store
