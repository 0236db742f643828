// Package migrations embeds SQL migration scripts for the ledger's SQLite
// databases: the event journal and the projection read models.
package migrations
