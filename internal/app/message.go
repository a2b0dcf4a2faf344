package app

import (
	"sync/atomic"
	"time"
)

// Message origins.
const (
	OriginUser = "user"
	OriginBot  = "bot"
)

// Message is one transcript entry.
//
// ID is a server-assigned positive identity, a client-assigned
// negative speculative identity, or 0 meaning "no stable identity, not
// editable".
type Message struct {
	ID        int64
	Text      string
	Origin    string
	Session   string
	Timestamp time.Time
	Buttons   [][]Button
	Persisted bool
}

// localIDs hands out speculative ids for optimistic inserts. Negative
// and monotonically decreasing, so they can never collide with the
// server's non-negative ids.
var localIDs atomic.Int64

// NextLocalID returns the next speculative message id (-1, -2, ...).
func NextLocalID() int64 {
	return -localIDs.Add(1)
}

// MessageLog is the ordered transcript plus an index from non-zero
// message id to position. The index is a cache: it can go stale when
// an entry's id changes, and lookups fall back to a reverse scan.
//
// The log is owned by the client's writer goroutine; it carries no
// locking of its own.
type MessageLog struct {
	entries []Message
	index   map[int64]int
}

func NewMessageLog() *MessageLog {
	return &MessageLog{index: make(map[int64]int)}
}

func (l *MessageLog) Len() int { return len(l.entries) }

// At returns the entry at position i.
func (l *MessageLog) At(i int) Message { return l.entries[i] }

// Append adds a message to the end of the log and returns its
// position. A non-zero id is registered in the index.
func (l *MessageLog) Append(m Message) int {
	pos := len(l.entries)
	l.entries = append(l.entries, m)
	if m.ID != 0 {
		l.index[m.ID] = pos
	}
	return pos
}

// Prepend inserts older history (oldest first) before the current
// entries, as when paging backwards. All index positions shift, so the
// index is rebuilt.
func (l *MessageLog) Prepend(older []Message) {
	if len(older) == 0 {
		return
	}
	l.entries = append(append([]Message{}, older...), l.entries...)
	l.reindex()
}

// Position resolves id to a live position. It trusts the index only if
// the entry there still carries the same id; otherwise it reverse-scans
// for the most recent match and repairs the index. The second return is
// false when the id is not in the log at all.
func (l *MessageLog) Position(id int64) (int, bool) {
	if id == 0 {
		return 0, false
	}
	if pos, ok := l.index[id]; ok && pos < len(l.entries) && l.entries[pos].ID == id {
		return pos, true
	}
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].ID == id {
			l.index[id] = i
			return i, true
		}
	}
	delete(l.index, id)
	return 0, false
}

// Update replaces the entry at pos. If the id changed (a speculative
// entry being confirmed), the old id's index entry is dropped so it
// cannot resurrect, and the new id is registered.
func (l *MessageLog) Update(pos int, m Message) {
	old := l.entries[pos]
	if old.ID != m.ID && old.ID != 0 {
		delete(l.index, old.ID)
	}
	l.entries[pos] = m
	if m.ID != 0 {
		l.index[m.ID] = pos
	}
}

// PersistedCount reports how many entries are backed by a store row.
// Speculative entries have no row yet, so this is the offset to page
// the next older slice from the store without skipping rows.
func (l *MessageLog) PersistedCount() int {
	n := 0
	for _, m := range l.entries {
		if m.Persisted {
			n++
		}
	}
	return n
}

// Clear empties the log and index (session reset).
func (l *MessageLog) Clear() {
	l.entries = nil
	l.index = make(map[int64]int)
}

// Snapshot returns a copy of the entries for readers outside the
// writer goroutine.
func (l *MessageLog) Snapshot() []Message {
	out := make([]Message, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *MessageLog) reindex() {
	l.index = make(map[int64]int, len(l.entries))
	for i, m := range l.entries {
		if m.ID != 0 {
			l.index[m.ID] = i
		}
	}
}
