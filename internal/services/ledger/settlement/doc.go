// Package settlement runs the tip settlement workflow of a restaurant:
// preview a distribution, approve it into the ledger, then flush payouts
// against the running balance.
//
// Approval is the only operation that credits balances and flushing the only
// one that debits them. Balance checks read the tip balance projection and
// fold in ledger events it has not applied yet, so a flush never pays against
// a stale balance.
package settlement
