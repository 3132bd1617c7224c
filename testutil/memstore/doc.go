// Package memstore provides an in-memory stream store that implements jstreams.Conn.
//
// It mirrors the consumer-group semantics of the real engines (groups, pending entries,
// blocking reads, reclaiming of idle entries) and counts the calls it receives,
// so tests can check the Context's orchestration without a running Redis or PostgreSQL.
package memstore
