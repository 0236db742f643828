// Package sqlite implements the ledger storage contracts on SQLite.
//
// Two databases are used: the event journal (events.db), where every append
// is hashed, chained per stream and signed, and the projection database
// (projections.db) holding read models and delivery bookkeeping. Both apply
// embedded migrations on open and take write locks at BEGIN so concurrent
// writers serialize instead of failing on lock upgrades.
package sqlite
