package recorder

import (
	"sync/atomic"
	"time"

	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

// InboxEntry is one emission waiting in an Inbox.
type InboxEntry struct {
	Type   models.EventType
	Fields map[string]models.Value
	At     time.Time

	epoch uint64
	next  atomic.Pointer[InboxEntry]
}

// Inbox is a non-blocking multi-producer queue of pending emissions. Push
// never blocks or allocates beyond the entry itself, so it may be called from
// contexts that must not wait on recording locks.
//
// The last entry's next pointer holds an end marker unique to the queue
// rather than nil. A nil next pointer means the entry has been claimed by a
// pop. An Inbox must not be copied after first use.
type Inbox struct {
	head atomic.Pointer[InboxEntry]
	tail atomic.Pointer[InboxEntry]
	end  InboxEntry
}

// NewInbox returns an empty Inbox.
func NewInbox() *Inbox {
	return &Inbox{}
}

func (q *Inbox) endMarker() *InboxEntry {
	return &q.end
}

func (q *Inbox) isEnd(e *InboxEntry) bool {
	return e == q.endMarker()
}

// Empty reports whether the queue currently holds no entries.
func (q *Inbox) Empty() bool {
	return q.head.Load() == nil
}

// Len counts the queued entries. The result is only a snapshot when
// producers or consumers run concurrently.
func (q *Inbox) Len() int {
	n := 0
	e := q.head.Load()
	for e != nil && !q.isEnd(e) {
		n++
		e = e.next.Load()
	}
	return n
}

// Push appends e to the queue. e must be freshly allocated: an entry is owned
// by the queue once pushed and must not be pushed again after it is popped,
// since a concurrent pop may still hold it.
func (q *Inbox) Push(e *InboxEntry) {
	q.Append(e, e)
}

// PushAll appends entries as one batch. Concurrent pushes never interleave
// with the batch. The ownership rule of Push applies to every entry.
func (q *Inbox) PushAll(entries ...*InboxEntry) {
	if len(entries) == 0 {
		return
	}
	for i := 0; i < len(entries)-1; i++ {
		entries[i].next.Store(entries[i+1])
	}
	q.Append(entries[0], entries[len(entries)-1])
}

// Append links the chain first..last onto the queue. The chain must already
// be linked through next pointers, which PushAll does.
//
// The tail is exchanged first and the old tail's next pointer is then swung
// from the end marker to first. Between those two steps the list is split in
// two; every concurrent append resolves its own split. If a pop claimed the
// old tail in the meantime the queue was logically empty and first becomes
// the new head.
func (q *Inbox) Append(first, last *InboxEntry) {
	last.next.Store(q.endMarker())
	oldTail := q.tail.Swap(last)
	if oldTail != nil && oldTail.next.CompareAndSwap(q.endMarker(), first) {
		return
	}
	q.head.Store(first)
}

// TryPop attempts to remove the head entry. ok is false when the attempt lost
// a race and should be retried; a nil entry with ok set means the queue was
// empty.
func (q *Inbox) TryPop() (e *InboxEntry, ok bool) {
	oldHead := q.head.Load()
	if oldHead == nil {
		return nil, true
	}

	next := oldHead.next.Load()
	if !q.isEnd(next) {
		// next is the rest of the list, or nil because a competing pop
		// already claimed oldHead.
		if !q.head.CompareAndSwap(oldHead, next) {
			return nil, false
		}
		if next == nil {
			// Helped a competing pop finish; report the lost race.
			return nil, false
		}
		oldHead.next.Store(nil)
		return oldHead, true
	}

	// oldHead is the last entry. Claim it by clearing its next pointer, then
	// reset head and tail unless a concurrent push already moved them.
	if oldHead.next.CompareAndSwap(next, nil) {
		q.head.CompareAndSwap(oldHead, nil)
		q.tail.CompareAndSwap(oldHead, nil)
		return oldHead, true
	}
	// A concurrent pop claimed it, or a push extended the list from it.
	return nil, false
}

// Pop removes and returns the head entry, or nil if the queue is empty.
func (q *Inbox) Pop() *InboxEntry {
	for {
		if e, ok := q.TryPop(); ok {
			return e
		}
	}
}

// TakeAll pops every entry currently reachable from the head, in FIFO order.
// Entries pushed while it runs may or may not be included. Like Pop, it is
// meant for a single consumer.
func (q *Inbox) TakeAll() []*InboxEntry {
	var out []*InboxEntry
	for {
		e := q.Pop()
		if e == nil {
			return out
		}
		out = append(out, e)
	}
}
