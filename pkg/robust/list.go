// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package robust implements robust mutexes on top of futex words.
//
// Every Thread owns a robust list: the set of futex words it currently holds
// or is trying to acquire. When a thread dies without unlocking, its
// Supervisor walks the list and marks each word still owned by the dead
// thread as owner-died, waking one waiter, so that the lock is never stuck.
// The next acquirer succeeds and is told that the previous owner died. The
// data protected by the lock may be inconsistent at that point; recovering
// it is up to the caller.
package robust

import (
	"fmt"
	"strings"

	"gvisor.dev/robustfutex/pkg/abi/linux"
	"gvisor.dev/robustfutex/pkg/futex"
)

// Handle identifies an entry of a List. The zero Handle terminates the list.
type Handle uint32

// NilHandle is the list terminator.
const NilHandle Handle = 0

// DefaultListLimit is the default capacity of a List, matching the kernel's
// bound on robust list walks.
const DefaultListLimit = linux.ROBUST_LIST_LIMIT

type entry struct {
	next Handle
	word *futex.Word
}

// List is a robust list: a singly-linked chain of entries, each naming one
// futex word, stored in an arena and addressed by Handle.
//
// A List is owned by a single thread. Other threads only read it after the
// owner is dead, so List does no locking of its own.
type List struct {
	// entries is the arena. entries[0] is unused so that NilHandle never
	// names an entry.
	entries []entry

	// free holds released handles for reuse.
	free []Handle

	// head is the first entry, or NilHandle.
	head Handle

	// pending is the word being unlinked by an in-progress unlock, and
	// pendingHandle the handle it had. This is list_op_pending: the word is
	// still owned but may no longer be reachable from head.
	pending       *futex.Word
	pendingHandle Handle

	// limit is the maximum number of live entries.
	limit int

	// n is the number of live entries.
	n int
}

// NewList returns an empty list holding at most limit entries. A limit of 0
// selects DefaultListLimit.
func NewList(limit int) *List {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return &List{
		entries: make([]entry, 1, 8),
		limit:   limit,
	}
}

// Link allocates an entry for w and prepends it to the list.
func (l *List) Link(w *futex.Word) (Handle, error) {
	if l.n >= l.limit {
		return NilHandle, ErrListFull
	}
	var h Handle
	if n := len(l.free); n > 0 {
		h = l.free[n-1]
		l.free = l.free[:n-1]
	} else {
		h = Handle(len(l.entries))
		l.entries = append(l.entries, entry{})
	}
	l.entries[h] = entry{next: l.head, word: w}
	l.head = h
	l.n++
	return h, nil
}

// Unlink removes h from the list and frees it. It reports whether h was
// linked.
func (l *List) Unlink(h Handle) bool {
	if !l.valid(h) {
		return false
	}
	prev := NilHandle
	for cur, steps := l.head, 0; cur != NilHandle && steps < l.limit; cur, steps = l.entries[cur].next, steps+1 {
		if cur != h {
			prev = cur
			continue
		}
		if prev == NilHandle {
			l.head = l.entries[cur].next
		} else {
			l.entries[prev].next = l.entries[cur].next
		}
		l.entries[cur] = entry{}
		l.free = append(l.free, cur)
		l.n--
		return true
	}
	return false
}

func (l *List) valid(h Handle) bool {
	return h != NilHandle && int(h) < len(l.entries) && l.entries[h].word != nil
}

// Find returns the first entry naming w, or NilHandle.
func (l *List) Find(w *futex.Word) Handle {
	found := NilHandle
	l.Walk(func(h Handle, ew *futex.Word) bool {
		if ew == w {
			found = h
			return false
		}
		return true
	})
	return found
}

// Walk calls fn for each linked entry, from the most recently linked, until
// fn returns false. It returns ErrListCorrupt if the chain is longer than
// the list limit.
func (l *List) Walk(fn func(h Handle, w *futex.Word) bool) error {
	steps := 0
	for cur := l.head; cur != NilHandle; cur = l.entries[cur].next {
		if steps >= l.limit {
			return ErrListCorrupt
		}
		steps++
		if !fn(cur, l.entries[cur].word) {
			return nil
		}
	}
	return nil
}

// SetPending records h's word as the subject of an in-progress list
// operation. It stays recorded after h is unlinked, until ClearPending.
func (l *List) SetPending(h Handle) {
	if !l.valid(h) {
		panic(fmt.Sprintf("SetPending of unlinked handle %d", h))
	}
	l.pending = l.entries[h].word
	l.pendingHandle = h
}

// ClearPending ends the operation started by SetPending.
func (l *List) ClearPending() {
	l.pending = nil
	l.pendingHandle = NilHandle
}

// Pending returns the word of the in-progress operation, or nil.
func (l *List) Pending() *futex.Word {
	return l.pending
}

// Len returns the number of linked entries.
func (l *List) Len() int {
	return l.n
}

// Limit returns the capacity of the list.
func (l *List) Limit() int {
	return l.limit
}

// Words returns the linked words, most recently linked first.
func (l *List) Words() []*futex.Word {
	ws := make([]*futex.Word, 0, l.n)
	l.Walk(func(_ Handle, w *futex.Word) bool {
		ws = append(ws, w)
		return true
	})
	return ws
}

// Head returns the list head in the kernel's robust_list_head layout, with
// handles in place of addresses. Entries reference their word directly, so
// FutexOffset is always 0.
func (l *List) Head() linux.RobustListHead {
	return linux.RobustListHead{
		List:          uint64(l.head),
		ListOpPending: uint64(l.pendingHandle),
	}
}

// String dumps the chain as "h(word: 0x..) -> ... -> NULL".
func (l *List) String() string {
	var b strings.Builder
	err := l.Walk(func(h Handle, w *futex.Word) bool {
		fmt.Fprintf(&b, "%d(word: %#x) -> ", h, w.Load())
		return true
	})
	if err != nil {
		b.WriteString("...")
		return b.String()
	}
	b.WriteString("NULL")
	return b.String()
}
