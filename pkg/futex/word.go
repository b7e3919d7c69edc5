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

package futex

import (
	"fmt"

	"gvisor.dev/robustfutex/pkg/abi/linux"
	"gvisor.dev/robustfutex/pkg/atomicbitops"
)

// Bits of a futex word, using the Linux robust/PI layout so that a Word may
// be handed to the host kernel unchanged.
const (
	// TIDMask selects the owner's thread ID. Zero means unlocked.
	TIDMask uint32 = linux.FUTEX_TID_MASK

	// Waiters is set when at least one thread is, or may be, blocked on the
	// word. It may be set by any contending thread regardless of the owner.
	Waiters uint32 = linux.FUTEX_WAITERS

	// OwnerDied is set by crash recovery when the owner terminated while
	// holding the lock.
	OwnerDied uint32 = linux.FUTEX_OWNER_DIED
)

// Word is a futex word: a 32-bit lock state that is both the fast-path lock
// and the key for blocking and waking.
//
// The zero value is unlocked with no waiters. All mutations are atomic
// read-modify-write operations; a Word must not be copied after first use.
type Word struct {
	v atomicbitops.Uint32
}

// Load returns the current raw value of the word.
func (w *Word) Load() uint32 {
	return w.v.Load()
}

// Ptr returns the address of the word for use with futex(2).
func (w *Word) Ptr() *uint32 {
	return w.v.Ptr()
}

// TryAcquire attempts to take an unowned word for tid. It succeeds iff the
// owner field is zero, preserves the waiters bit and clears the owner-died
// bit, reporting whether it was set.
//
// Preconditions: 0 < tid <= TIDMask.
func (w *Word) TryAcquire(tid uint32) (ok, ownerDied bool) {
	return w.acquire(tid, 0)
}

// TryAcquireContended is TryAcquire, but additionally sets the waiters bit.
// Threads that have slept on the word acquire it this way, since other
// sleepers may remain and the eventual release must wake one of them.
//
// Preconditions: 0 < tid <= TIDMask.
func (w *Word) TryAcquireContended(tid uint32) (ok, ownerDied bool) {
	return w.acquire(tid, Waiters)
}

func (w *Word) acquire(tid, extra uint32) (bool, bool) {
	for {
		old := w.v.Load()
		if old&TIDMask != 0 {
			return false, false
		}
		// A failed CAS here means only the waiters bit changed under us.
		if w.v.CompareAndSwap(old, tid|old&Waiters|extra) {
			return true, old&OwnerDied != 0
		}
	}
}

// MarkWaiting sets the waiters bit and returns the resulting value, which is
// the value the caller should pass to Waker.Wait.
func (w *Word) MarkWaiting() uint32 {
	return w.v.Or(Waiters) | Waiters
}

// Release resets the word to unlocked with no waiters and returns the prior
// value. If the prior value had Waiters set, the caller must wake a waiter.
func (w *Word) Release() uint32 {
	return w.v.Swap(0)
}

// MarkOwnerDied is the crash recovery transition: if tid still owns the word,
// the owner field is cleared and OwnerDied set, keeping the waiters bit. It
// reports whether the word was marked and whether a waiter must be woken.
func (w *Word) MarkOwnerDied(tid uint32) (marked, wake bool) {
	for {
		old := w.v.Load()
		if old&TIDMask != tid {
			return false, false
		}
		if w.v.CompareAndSwap(old, old&Waiters|OwnerDied) {
			return true, old&Waiters != 0
		}
	}
}

// Owner returns the TID of the current owner, or 0.
func (w *Word) Owner() uint32 {
	return w.v.Load() & TIDMask
}

// State decodes the current value of the word. It is for diagnostics only
// and takes no part in acquisition or release.
func (w *Word) State() State {
	return Decode(w.v.Load())
}

// StateKind classifies a decoded futex word.
type StateKind int

// Possible StateKinds.
const (
	StateUnlocked StateKind = iota
	StateLocked
	StateLockedWithWaiters
	StateOwnerDied
)

// State is a decoded futex word.
type State struct {
	Kind StateKind

	// Owner is the owning TID, or 0.
	Owner uint32

	// Waiters mirrors the waiters bit.
	Waiters bool

	// Raw is the undecoded value.
	Raw uint32
}

// Decode decodes a raw futex word value.
func Decode(v uint32) State {
	s := State{
		Owner:   v & TIDMask,
		Waiters: v&Waiters != 0,
		Raw:     v,
	}
	switch {
	case s.Owner != 0 && s.Waiters:
		s.Kind = StateLockedWithWaiters
	case s.Owner != 0:
		s.Kind = StateLocked
	case v&OwnerDied != 0:
		s.Kind = StateOwnerDied
	default:
		s.Kind = StateUnlocked
	}
	return s
}

// String implements fmt.Stringer.String.
func (s State) String() string {
	switch s.Kind {
	case StateLocked:
		return fmt.Sprintf("locked-by:%d", s.Owner)
	case StateLockedWithWaiters:
		return fmt.Sprintf("locked-with-waiters:%d", s.Owner)
	case StateOwnerDied:
		return "owner-died"
	default:
		return "unlocked"
	}
}
