// Package archiver defines the core types shared across the thread archiver:
// download items, thread state, the data-source contracts, and the options
// that steer the scheduler.
package archiver
