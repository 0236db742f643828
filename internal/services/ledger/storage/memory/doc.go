// Package memory implements the ledger storage contracts in process memory.
//
// It backs unit tests and single-process tooling. Append guards and the
// exactly-once projection apply behave like the SQLite store; nothing is
// persisted and there is no integrity chain.
package memory
