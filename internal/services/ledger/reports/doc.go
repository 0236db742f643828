// Package reports records daily close-out reports and versioned report
// templates in the ledger and reads them back by stream replay.
package reports
