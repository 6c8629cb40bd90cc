// Package memoryhost provides an in-memory implementation of sessions.Store.
// It is the reference implementation used by tests and single-process
// deployments; all state is lost on restart.
package memoryhost
