// Package connector manages the broker resources owned by each connector.
//
// Every connector gets two durable queues derived from its identity:
// listen_<id>, bound to the shared listen exchange, carries work from the
// platform to the connector; push_<id>, bound to the shared push exchange,
// carries results back. The Registry guarantees one registration per
// identity, the Provisioner declares and rolls back queues, and the
// Coordinator drains and deletes them on removal.
package connector
