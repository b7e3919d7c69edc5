// Copyright 2018 The gVisor Authors.
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

// Package futex provides futex words and the wait/wake primitives that block
// on them.
//
// Two wait queue implementations are provided. Manager keeps the queues in
// process memory, transforming waits into waits on a channel, which works on
// any platform and supports cancellation. HostWaker (Linux only) uses the
// host kernel's futex(2) queues, which interoperate with the kernel's robust
// list processing on thread exit.
package futex

import (
	"context"
	"sync/atomic"
	"unsafe"

	"gvisor.dev/robustfutex/pkg/sync"
)

// Waiter is the struct which gets enqueued into buckets for wake up routines
// to scan and notify. Once a Waiter has been enqueued by WaitPrepare(),
// callers may listen on C for wake up events.
type Waiter struct {
	// Synchronization:
	//
	// - A Waiter that is not enqueued in a bucket is exclusively owned (no
	// synchronization applies).
	//
	// - A Waiter is enqueued in a bucket by calling WaitPrepare(). After this,
	// waiterEntry, bucket, and word are protected by the bucket.mu ("bucket
	// lock") of the containing bucket. Note that since bucket is mutated
	// using atomic memory operations, bucket.Load() may be called without
	// holding the bucket lock, although it may change racily. See
	// WaitComplete().
	//
	// - A Waiter is only guaranteed to be no longer queued after calling
	// WaitComplete().

	// waiterEntry links Waiter into bucket.waiters.
	waiterEntry

	// bucket is the bucket this waiter is queued in. If bucket is nil, the
	// waiter is not waiting and is not in any bucket.
	bucket atomic.Pointer[bucket]

	// C is sent to when the Waiter is woken.
	C chan struct{}

	// word is what this waiter is waiting on.
	word *Word
}

// NewWaiter returns a new unqueued Waiter.
func NewWaiter() *Waiter {
	return &Waiter{
		C: make(chan struct{}, 1),
	}
}

// woken returns true if w has been woken since the last call to WaitPrepare.
func (w *Waiter) woken() bool {
	return len(w.C) != 0
}

// bucket holds a list of waiters for a given address hash.
type bucket struct {
	// mu protects waiters and contained Waiter state. See comment in Waiter.
	mu sync.Mutex

	waiters waiterList
}

// wakeLocked wakes up to n waiters on word and returns the number of waiters
// woken.
//
// Preconditions: b.mu must be locked.
func (b *bucket) wakeLocked(word *Word, n int) int {
	done := 0
	for w := b.waiters.Front(); done < n && w != nil; {
		if w.word != word {
			// Not matching.
			w = w.Next()
			continue
		}

		// Remove from the bucket and wake the waiter.
		woke := w
		w = w.Next() // Next iteration.
		b.waiters.Remove(woke)
		woke.C <- struct{}{}

		// NOTE: The above channel write establishes a write barrier according
		// to the memory model, so nothing may be ordered around it. Since
		// we've dequeued woke and will never touch it again, we can safely
		// store nil to woke.bucket here and allow the WaitComplete() to
		// short-circuit grabbing the bucket lock. If they somehow miss the
		// store, we are still holding the lock, so we can know that they won't
		// dequeue woke, assume it's free and have the below operation
		// afterwards.
		woke.bucket.Store(nil)
		done++
	}
	return done
}

const (
	// bucketCount is the number of buckets per Manager. By having many of
	// these we reduce contention when concurrent yet unrelated calls are made.
	bucketCount     = 1 << bucketCountBits
	bucketCountBits = 10
)

// bucketIndexForAddr returns the index into Manager.buckets for addr.
func bucketIndexForAddr(addr uintptr) uintptr {
	// The bottom 2 bits of addr are always 0 for a Word, and the top 16 bits
	// of a user address are never set on supported platforms. The remaining
	// bits are folded so that adjacent words map to adjacent buckets.
	//
	// h1 and h2 are grouped separately so that the additions can be computed
	// in parallel.
	h1 := (addr >> 2) + (addr >> 12) + (addr >> 22)
	h2 := (addr >> 32) + (addr >> 42)
	return (h1 + h2) % bucketCount
}

// Manager holds in-process futex wait queues. A single Manager must be used
// for all waits and wakes on a given Word.
//
// Manager implements Waker.
type Manager struct {
	buckets [bucketCount]bucket
}

// NewManager returns an initialized futex manager.
func NewManager() *Manager {
	return &Manager{}
}

// lockBucket returns a locked bucket for the given word.
func (m *Manager) lockBucket(word *Word) *bucket {
	b := &m.buckets[bucketIndexForAddr(uintptr(unsafe.Pointer(word)))]
	b.mu.Lock()
	return b
}

// Wake implements Waker.Wake.
func (m *Manager) Wake(word *Word, n int) (int, error) {
	// This function is very hot; avoid defer.
	b := m.lockBucket(word)
	r := b.wakeLocked(word, n)
	b.mu.Unlock()
	return r, nil
}

// WaitPrepare atomically checks that word contains val, then enqueues w to be
// woken by a send to w.C. If WaitPrepare returns nil, the Waiter must be
// subsequently removed by calling WaitComplete, whether or not a wakeup is
// received on w.C. If word does not contain val, WaitPrepare returns
// ErrValueChanged and w is not enqueued.
func (m *Manager) WaitPrepare(w *Waiter, word *Word, val uint32) error {
	// Prepare the Waiter before taking the bucket lock.
	select {
	case <-w.C:
	default:
	}
	w.word = word

	b := m.lockBucket(word)
	// This function is very hot; avoid defer.

	// Perform our atomic check. Any store that changes the word and is
	// followed by a Wake must either be visible here or be ordered after
	// our enqueue by the bucket lock.
	if word.Load() != val {
		b.mu.Unlock()
		w.word = nil
		return ErrValueChanged
	}

	// Add the waiter to the bucket.
	b.waiters.PushBack(w)
	w.bucket.Store(b)

	b.mu.Unlock()
	return nil
}

// WaitComplete must be called when a Waiter previously added by WaitPrepare is
// no longer eligible to be woken.
func (m *Manager) WaitComplete(w *Waiter) {
	// Remove w from the bucket it's in.
	for {
		b := w.bucket.Load()

		// If b is nil, the waiter isn't in any bucket anymore.
		if b == nil {
			break
		}

		// Take the bucket lock. Waiters are never moved between buckets, but
		// the waker may dequeue w concurrently, so recheck under the lock.
		b.mu.Lock()
		if b != w.bucket.Load() {
			b.mu.Unlock()
			continue
		}

		// Remove w from b.
		b.waiters.Remove(w)
		w.bucket.Store(nil)
		b.mu.Unlock()
		break
	}

	w.word = nil
}

var waiterPool = sync.Pool{
	New: func() any {
		return NewWaiter()
	},
}

// Wait implements Waker.Wait.
//
// If ctx is done at the same time as a wakeup arrives, the wakeup wins and
// Wait returns nil, so that a wakeup is never consumed by a caller that is
// about to give up.
func (m *Manager) Wait(ctx context.Context, word *Word, val uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w := waiterPool.Get().(*Waiter)
	defer waiterPool.Put(w)
	if err := m.WaitPrepare(w, word, val); err != nil {
		// Only ErrValueChanged is possible; the caller re-reads the word.
		return nil
	}
	select {
	case <-w.C:
		m.WaitComplete(w)
		return nil
	case <-ctx.Done():
	}
	m.WaitComplete(w)
	if w.woken() {
		<-w.C
		return nil
	}
	return ctx.Err()
}
