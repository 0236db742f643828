// Package storage defines persistence interfaces for the ledger service.
//
// It covers the append-only event journal, the projection read models (tip
// balances, daily aggregates, audit trail), projection bookkeeping
// (checkpoints, watermarks, dead letters) and the exactly-once apply
// boundary projectors write through. Implementations live in subpackages:
// sqlite for production and memory for tests and tooling.
//
// Common error types:
//   - ErrNotFound: requested record is missing
//   - ErrEventIDConflict, ErrStreamVersionConflict, ErrEventAlreadyRecorded:
//     append conflicts, matched with errors.Is by code
package storage
