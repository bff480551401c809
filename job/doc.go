// Package job defines the durable ledger model — jobs, items, and the
// Store contract every backend implements. A Job is one user-initiated
// batch of operations; an Item is one unit of work within it,
// corresponding to exactly one queue message.
package job
