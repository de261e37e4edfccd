// Package ledger tracks which session files have verifiably reached the
// transfer destination. The ledger is rewritten after every job state
// change, so an interrupted transfer can resume without re-copying files
// whose fingerprints still match what was confirmed.
package ledger
