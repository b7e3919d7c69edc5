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

package robust

import (
	"context"
	"errors"
	"fmt"

	"gvisor.dev/robustfutex/pkg/cleanup"
	"gvisor.dev/robustfutex/pkg/futex"
)

// Mutex is a robust mutual exclusion lock. The zero value is unlocked.
//
// If the owner of a Mutex dies while holding it, the next Lock succeeds and
// reports ownerDied. The Mutex is usable again from then on, but the data it
// protects may have been left half-updated.
//
// Acquisition is not FIFO: after a wakeup, whichever thread wins the race
// for the word takes the lock.
//
// A Mutex must not be copied after first use.
type Mutex struct {
	word futex.Word
}

// Word returns the futex word backing m.
func (m *Mutex) Word() *futex.Word {
	return &m.word
}

// State decodes the current state of m. It is meant for diagnostics; the
// result may be stale by the time it is returned.
func (m *Mutex) State() futex.State {
	return m.word.State()
}

// Lock locks m on behalf of t, blocking until it is available.
func (m *Mutex) Lock(t *Thread) (ownerDied bool, err error) {
	return m.LockContext(context.Background(), t)
}

// LockContext is Lock, but gives up and returns ctx.Err() if ctx is done
// before m is acquired.
func (m *Mutex) LockContext(ctx context.Context, t *Thread) (ownerDied bool, err error) {
	h, err := t.linkForLock(&m.word)
	if err != nil {
		return false, err
	}
	cu := cleanup.Make(func() { t.unlinkAbandoned(h) })
	defer cu.Clean()
	slept := false
	for {
		ok, died, err := t.acquire(&m.word, slept)
		if err != nil {
			return false, err
		}
		if ok {
			cu.Release()
			if slept {
				acquiredCount.Increment(pathSlow)
			} else {
				acquiredCount.Increment(pathFast)
			}
			if died {
				ownerDiedCount.Increment()
			}
			return died, nil
		}

		contendedCount.Increment()
		val := m.word.MarkWaiting()
		if val&futex.TIDMask == 0 {
			// Released since the attempt; retry without sleeping.
			continue
		}
		waitCount.Increment()
		if err := t.s.waker.Wait(ctx, &m.word, val); err != nil {
			if m.word.Owner() == 0 {
				// A release may have raced with the failure.
				if werr := t.s.wake(&m.word); werr != nil {
					err = errors.Join(err, fmt.Errorf("wake: %w", werr))
				}
			}
			return false, err
		}
		slept = true
	}
}

// TryLock attempts to lock m on behalf of t without blocking.
func (m *Mutex) TryLock(t *Thread) (acquired, ownerDied bool, err error) {
	h, err := t.linkForLock(&m.word)
	if err != nil {
		return false, false, err
	}
	ok, died, err := t.acquire(&m.word, false)
	if err != nil {
		return false, false, err
	}
	if !ok {
		t.unlinkAbandoned(h)
		return false, false, nil
	}
	acquiredCount.Increment(pathFast)
	if died {
		ownerDiedCount.Increment()
	}
	return true, died, nil
}

// Unlock unlocks m, which must be held by t.
func (m *Mutex) Unlock(t *Thread) error {
	t.mu.Lock()
	if t.state != threadRunning {
		t.mu.Unlock()
		return ErrThreadExited
	}
	if m.word.Owner() != t.tid {
		t.mu.Unlock()
		return ErrNotOwner
	}
	// Keep the word visible to recovery through list_op_pending between
	// the unlink and the release.
	if h := t.list.Find(&m.word); h != NilHandle {
		t.list.SetPending(h)
		t.list.Unlink(h)
	}
	prev := m.word.Release()
	t.list.ClearPending()
	t.mu.Unlock()

	if prev&futex.Waiters != 0 {
		if err := t.s.wake(&m.word); err != nil {
			return fmt.Errorf("wake: %w", err)
		}
	}
	return nil
}

// linkForLock registers t's list if needed and links w into it.
func (t *Thread) linkForLock(w *futex.Word) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != threadRunning {
		return NilHandle, ErrThreadExited
	}
	if w.Owner() == t.tid {
		return NilHandle, ErrDeadlock
	}
	if err := t.registerLocked(); err != nil {
		return NilHandle, err
	}
	return t.list.Link(w)
}

// acquire makes one attempt to take w. It is serialized with exit so that a
// word is either taken before crash recovery runs, and recovered by it, or
// not taken at all.
func (t *Thread) acquire(w *futex.Word, contended bool) (ok, ownerDied bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != threadRunning {
		return false, false, ErrThreadExited
	}
	if contended {
		ok, ownerDied = w.TryAcquireContended(t.tid)
	} else {
		ok, ownerDied = w.TryAcquire(t.tid)
	}
	return ok, ownerDied, nil
}

// unlinkAbandoned removes the entry of a lock attempt that gave up.
func (t *Thread) unlinkAbandoned(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == threadRunning {
		t.list.Unlink(h)
	}
}
