package store

import "sync"

// ExecutionLocks generalizes the teacher's single global SQLiteWriteMutex
// into one mutex per workflow execution: SQLite only allows one writer at a
// time, but serializing ALL executions behind a single lock would make
// unrelated workflows contend with each other. The dispatcher holds a
// execution's lock for the whole begin/apply-FSM/commit cycle (SPEC_FULL
// §4.6), giving it the same effect as the row-level SELECT ... FOR UPDATE
// the teacher's Postgres-backed services would use.
type ExecutionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewExecutionLocks returns an empty lock set.
func NewExecutionLocks() *ExecutionLocks {
	return &ExecutionLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until the named execution's lock is held and returns a func
// that releases it.
func (l *ExecutionLocks) Lock(executionID string) func() {
	l.mu.Lock()
	m, ok := l.locks[executionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[executionID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
