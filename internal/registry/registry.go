// Package registry holds the lock-guarded maps the scheduler shares between
// workers: thread id to thread state, and board name to board session.
package registry

import (
	"sort"
	"sync"

	"github.com/JakeFAU/board-archiver/internal/archiver"
)

// Threads maps thread ids to their state. Every read returns a copy; every
// mutation happens under the registry lock.
type Threads struct {
	mu      sync.RWMutex
	threads map[int64]*archiver.ThreadState
}

// NewThreads returns an empty thread registry.
func NewThreads() *Threads {
	return &Threads{threads: make(map[int64]*archiver.ThreadState)}
}

// Has reports whether the thread is tracked, dead or alive.
func (r *Threads) Has(threadID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.threads[threadID]
	return ok
}

// GetOrCreate inserts the state built by factory unless the id is already
// present. The check and the insert share one critical section.
func (r *Threads) GetOrCreate(
	threadID int64,
	factory func() archiver.ThreadState,
) (archiver.ThreadState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.threads[threadID]; ok {
		return *existing, false
	}
	state := factory()
	state.ThreadID = threadID
	r.threads[threadID] = &state
	return state, true
}

// Get returns a copy of the thread state.
func (r *Threads) Get(threadID int64) (archiver.ThreadState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.threads[threadID]
	if !ok {
		return archiver.ThreadState{}, false
	}
	return *state, true
}

// Update applies fn to the live state under the lock and returns the result.
func (r *Threads) Update(threadID int64, fn func(*archiver.ThreadState)) (archiver.ThreadState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.threads[threadID]
	if !ok {
		return archiver.ThreadState{}, false
	}
	fn(state)
	return *state, true
}

// Len returns the number of tracked threads.
func (r *Threads) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threads)
}

// Snapshot lists all threads ordered by id.
func (r *Threads) Snapshot() []archiver.ThreadInfo {
	r.mu.RLock()
	out := make([]archiver.ThreadInfo, 0, len(r.threads))
	for _, state := range r.threads {
		out = append(out, state.Info())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ThreadID < out[j].ThreadID })
	return out
}

// Board couples a session with the lock that serializes its update cycles.
type Board struct {
	Name    string
	Session archiver.BoardSession

	mu sync.Mutex
}

// Lock takes the board's critical section.
func (b *Board) Lock() { b.mu.Lock() }

// Unlock releases the board's critical section.
func (b *Board) Unlock() { b.mu.Unlock() }

// Boards lazily creates one Board per name.
type Boards struct {
	mu     sync.Mutex
	boards map[string]*Board
}

// NewBoards returns an empty board registry.
func NewBoards() *Boards {
	return &Boards{boards: make(map[string]*Board)}
}

// GetOrCreate returns the board for name, building its session on first use.
func (r *Boards) GetOrCreate(name string, factory func() archiver.BoardSession) (*Board, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.boards[name]; ok {
		return b, false
	}
	b := &Board{Name: name, Session: factory()}
	r.boards[name] = b
	return b, true
}

// Get returns the board if it has been created.
func (r *Boards) Get(name string) (*Board, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.boards[name]
	return b, ok
}

// Len returns the number of board sessions.
func (r *Boards) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.boards)
}
