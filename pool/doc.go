// Package pool implements a generic, in-process object pool for reusable,
// expensive-to-construct instances such as database connections, network
// sessions, or byte buffers.
//
// The pool lends instances to borrowers through Borrow/Return, enforces a
// hard capacity limit, evicts idle instances that have sat unused too long,
// and reclaims instances that a borrower never returned ("abandoned").
// Construction, validation, and disposal of the underlying value are left
// to a user-supplied Factory; the pool itself only manages lifecycle,
// concurrency, and fairness.
package pool
