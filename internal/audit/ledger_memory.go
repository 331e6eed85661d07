package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger keeps entries in memory and is safe for concurrent use.
type MemoryLedger struct {
	mu      sync.RWMutex
	nextSeq int64
	byDoc   map[string][]Entry
}

// NewMemoryLedger constructs a MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{byDoc: make(map[string][]Entry)}
}

// Append stores the entry, assigning ID, sequence number, and timestamp if
// unset.
func (l *MemoryLedger) Append(ctx context.Context, entry Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextSeq++
	entry.Seq = l.nextSeq
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	l.byDoc[entry.DocumentID] = append(l.byDoc[entry.DocumentID], entry)
	return entry, nil
}

// All returns every entry across documents ordered by sequence.
func (l *MemoryLedger) All() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, entries := range l.byDoc {
		out = append(out, entries...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// History returns the entries for a document in append order.
func (l *MemoryLedger) History(ctx context.Context, documentID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := l.byDoc[documentID]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}
