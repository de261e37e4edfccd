// Package egress mirrors session data files to the transfer destination.
// Jobs come from the persisted ledger and run independently across a worker
// pool; every copy is fingerprint-verified, transient failures retry with
// exponential backoff and jitter, and the ledger is rewritten after each
// state change so an interrupted transfer resumes without re-copying
// confirmed files. One backend notice goes out after all copies settle.
package egress
