// Package store declares the repository contract for persisting thread
// status history outside the archive directory.
package store
