package interaction

import (
	"sync"
	"time"

	"github.com/danielpatrickdp/decision-dialogue/internal/policy"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
	"github.com/google/uuid"
)

// #region record

// Record is one decision: the context it was made in, the action taken and
// which policy kind produced it. Records are never mutated after Append.
type Record struct {
	Seq       uint64
	ID        string
	Context   schema.Context
	Action    schema.Action
	Source    policy.Kind
	Timestamp time.Time
}

// #endregion record

// #region log

// Log is an append-only, insertion-ordered record of decisions. It is safe
// for concurrent writers and readers; reads return copies.
type Log struct {
	mu      sync.Mutex
	records []Record
	nextSeq uint64
	now     func() time.Time
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{nextSeq: 1, now: time.Now}
}

// Append adds rec, filling Seq, and ID and Timestamp when unset. It never
// rejects a record and returns the stored copy.
func (l *Log) Append(rec Record) Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(rec)
}

func (l *Log) appendLocked(rec Record) Record {
	rec.Seq = l.nextSeq
	l.nextSeq++
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}
	l.records = append(l.records, rec)
	return rec
}

// Import appends previously persisted records in the given order. Sequence
// numbers are reassigned after any records already present.
func (l *Log) Import(records []Record) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, 0, len(records))
	for _, r := range records {
		out = append(out, l.appendLocked(r))
	}
	return out
}

// Len returns the number of records held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Snapshot returns a copy of every record in insertion order.
func (l *Log) Snapshot() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Window returns a copy of the newest n records, oldest first.
func (l *Log) Window(n int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 {
		return nil
	}
	start := len(l.records) - n
	if start < 0 {
		start = 0
	}
	out := make([]Record, len(l.records)-start)
	copy(out, l.records[start:])
	return out
}

// RetainLast keeps only the newest n records and returns how many were
// dropped. Sequence numbers keep counting from where they were.
func (l *Log) RetainLast(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if len(l.records) <= n {
		return 0
	}
	dropped := len(l.records) - n
	kept := make([]Record, n)
	copy(kept, l.records[dropped:])
	l.records = kept
	return dropped
}

// #endregion log
