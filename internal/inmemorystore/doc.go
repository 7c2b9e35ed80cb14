// Package inmemorystore provides a thread-safe, in-memory implementation
// of the runstore.Store interface. It is suitable for development, testing,
// or any scenario where the run table does not need to survive a restart.
package inmemorystore
