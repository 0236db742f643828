// Package tips computes tip allocations and validates payouts.
//
// Everything here is pure: no storage, no clocks. The settlement engine
// supplies balances and persists the results as ledger events.
package tips
