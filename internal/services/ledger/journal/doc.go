// Package journal is the single write path into the ledger.
//
// Ledger validates events against the payload registry, stamps ids, times and
// request metadata, persists through a storage.EventStore and then notifies
// append listeners. Listeners run after the append has committed and must
// not block; the projection dispatcher registers its Notify here.
package journal
