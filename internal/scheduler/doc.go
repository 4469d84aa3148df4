// Package scheduler owns the thread lifecycle: it validates and registers
// threads, runs the incremental update cycle for every ready thread item,
// persists thread artifacts, downloads media and grows the work set from
// child-thread references found in replies.
//
// A thread's item is re-enqueued only by its own update cycle, so a single
// thread is never processed by two workers at once. Cycles on one board are
// serialized by the board's lock; children discovered during a cycle are
// registered after that lock is released.
package scheduler
