// Package ledger tracks the capture files created during a rotation session
// and evicts the oldest one once the configured capacity is exceeded.
package ledger

import (
	"fmt"
	"os"
	"time"
)

// FileRecord describes one capture file created during the session.
type FileRecord struct {
	Seq       int
	FullPath  string
	FileName  string
	CreatedAt time.Time
}

// Ledger is a fixed-capacity ring of FileRecords in rotation order. The arena
// holds maxFiles+1 slots because a new record is pushed before the oldest is
// evicted, so occupancy briefly reaches maxFiles+1 during a rotation.
type Ledger struct {
	arena []FileRecord
	head  int // index of the oldest record
	count int
}

// New creates a ledger for a session capped at maxFiles on-disk files.
func New(maxFiles int) *Ledger {
	return &Ledger{arena: make([]FileRecord, maxFiles+1)}
}

// Push appends a record as the newest entry. Panics if occupancy would exceed
// the arena; the controller always evicts between pushes.
func (l *Ledger) Push(rec FileRecord) {
	if l.count == len(l.arena) {
		panic("ledger: push past arena capacity")
	}
	l.arena[(l.head+l.count)%len(l.arena)] = rec
	l.count++
}

// EvictOldestIfOver pops and returns the oldest record when occupancy exceeds
// maxFiles, deleting its backing file. A file already gone from disk is not
// an error. Returns nil when under capacity. The most recently pushed record
// is never evicted: the check is strictly greater-than.
func (l *Ledger) EvictOldestIfOver(maxFiles int) (*FileRecord, error) {
	if l.count <= maxFiles {
		return nil, nil
	}
	rec := l.arena[l.head]
	l.head = (l.head + 1) % len(l.arena)
	l.count--

	if err := os.Remove(rec.FullPath); err != nil && !os.IsNotExist(err) {
		return &rec, fmt.Errorf("failed to delete evicted capture file %s: %w", rec.FullPath, err)
	}
	return &rec, nil
}

// Len reports the number of records currently held.
func (l *Ledger) Len() int { return l.count }

// Records returns the held records oldest first.
func (l *Ledger) Records() []FileRecord {
	out := make([]FileRecord, 0, l.count)
	for i := 0; i < l.count; i++ {
		out = append(out, l.arena[(l.head+i)%len(l.arena)])
	}
	return out
}

// Newest returns the most recently pushed record, or nil when empty.
func (l *Ledger) Newest() *FileRecord {
	if l.count == 0 {
		return nil
	}
	rec := l.arena[(l.head+l.count-1)%len(l.arena)]
	return &rec
}
