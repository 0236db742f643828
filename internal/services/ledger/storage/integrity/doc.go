// Package integrity hashes, chains and signs ledger events so stored history
// is tamper evident.
//
// Each event carries a content hash of its canonical envelope, a chain hash
// linking it to its stream predecessor, and an HMAC of the chain hash keyed
// per stream from a root keyring.
package integrity
