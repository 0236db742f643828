// Package projection delivers ledger events to read-model builders.
//
// The Dispatcher runs one delivery loop per named consumer. Each consumer
// reads the ledger from its own durable checkpoint in position order, so a
// slow or failing consumer never holds back another one. Delivery is
// at-least-once: a handler may see an event again after a crash between
// applying it and saving the checkpoint. Projectors backed by SQLite make
// redelivery a no-op with exactly-once apply markers.
//
// A handler error blocks its consumer at that event and is retried with
// exponential backoff. After MaxAttempts the event is written to the
// dead-letter store and the checkpoint moves past it.
package projection
