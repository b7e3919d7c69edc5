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
	"fmt"
	"time"

	"github.com/google/btree"
	"gvisor.dev/robustfutex/pkg/atomicbitops"
	"gvisor.dev/robustfutex/pkg/futex"
	"gvisor.dev/robustfutex/pkg/log"
	"gvisor.dev/robustfutex/pkg/sync"
)

// wakeErrLog limits warnings about failed wakeups, which are otherwise
// emitted once per unlock.
var wakeErrLog = log.BasicRateLimitedLogger(time.Second)

// Opts configures a Supervisor.
type Opts struct {
	// Waker blocks and wakes lockers. If nil, a new futex.Manager is used.
	Waker futex.Waker

	// ListLimit is the capacity of each thread's robust list. If 0,
	// DefaultListLimit is used.
	ListLimit int
}

// Supervisor is the registry of robust lists. It plays the part the kernel
// plays for set_robust_list(2): it knows every thread's list and runs crash
// recovery when a thread dies.
type Supervisor struct {
	waker     futex.Waker
	listLimit int

	// lastTID is the last TID handed out by NewThread.
	lastTID atomicbitops.Uint32

	// mu protects registered.
	mu sync.Mutex

	// registered holds the threads with a registered list, ordered by TID.
	registered *btree.BTreeG[*Thread]
}

func threadLess(a, b *Thread) bool {
	return a.tid < b.tid
}

// NewSupervisor returns a new Supervisor.
func NewSupervisor(opts Opts) *Supervisor {
	if opts.Waker == nil {
		opts.Waker = futex.NewManager()
	}
	if opts.ListLimit <= 0 {
		opts.ListLimit = DefaultListLimit
	}
	return &Supervisor{
		waker:      opts.Waker,
		listLimit:  opts.ListLimit,
		registered: btree.NewG[*Thread](2, threadLess),
	}
}

// Waker returns the Waker used by threads of s.
func (s *Supervisor) Waker() futex.Waker {
	return s.waker
}

// NewThread returns a thread with a fresh TID and an unregistered list.
func (s *Supervisor) NewThread() *Thread {
	tid := s.lastTID.Add(1)
	if tid > futex.TIDMask {
		panic("thread IDs exhausted")
	}
	return s.newThread(tid)
}

// AttachThread returns a thread for an existing TID, such as a host thread
// ID from unix.Gettid. Registering its list fails with
// ErrRegistrationConflict if another thread with the same TID is
// registered.
func (s *Supervisor) AttachThread(tid uint32) (*Thread, error) {
	if tid == 0 || tid > futex.TIDMask {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTID, tid)
	}
	return s.newThread(tid), nil
}

func (s *Supervisor) newThread(tid uint32) *Thread {
	return &Thread{
		s:    s,
		tid:  tid,
		list: NewList(s.listLimit),
	}
}

// register adds t's list to the registry.
//
// Preconditions: t.mu is locked.
func (s *Supervisor) register(t *Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if other, ok := s.registered.Get(&Thread{tid: t.tid}); ok && other != t {
		return fmt.Errorf("tid %d: %w", t.tid, ErrRegistrationConflict)
	}
	s.registered.ReplaceOrInsert(t)
	log.Debugf("Registered robust list for thread %d", t.tid)
	return nil
}

// deregister removes t's list from the registry.
//
// Preconditions: t.mu is locked.
func (s *Supervisor) deregister(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if other, ok := s.registered.Get(&Thread{tid: t.tid}); ok && other == t {
		s.registered.Delete(t)
	}
}

// ThreadInfo describes a registered thread.
type ThreadInfo struct {
	TID  uint32
	Held int
}

// Threads returns the registered threads in TID order.
func (s *Supervisor) Threads() []ThreadInfo {
	s.mu.Lock()
	ts := make([]*Thread, 0, s.registered.Len())
	s.registered.Ascend(func(t *Thread) bool {
		ts = append(ts, t)
		return true
	})
	s.mu.Unlock()

	// Thread locks are taken before s.mu, so they are only taken here
	// after s.mu is released.
	infos := make([]ThreadInfo, 0, len(ts))
	for _, t := range ts {
		t.mu.Lock()
		infos = append(infos, ThreadInfo{TID: t.tid, Held: t.list.Len()})
		t.mu.Unlock()
	}
	return infos
}

// wake wakes one waiter on w.
func (s *Supervisor) wake(w *futex.Word) error {
	wakeCount.Increment()
	_, err := s.waker.Wake(w, 1)
	return err
}

// recoverList marks every word in l still owned by tid as owner-died, waking
// one waiter on each word that had waiters. It returns the number of words
// marked.
//
// Preconditions: the owner of l is dead, and l is not being modified.
func (s *Supervisor) recoverList(tid uint32, l *List) int {
	recovered := 0
	mark := func(w *futex.Word) {
		marked, wake := w.MarkOwnerDied(tid)
		if !marked {
			return
		}
		recovered++
		if wake {
			// The dead owner has no caller to report to.
			if err := s.wake(w); err != nil {
				wakeErrLog.Warningf("Thread %d: wake of futex word %p failed: %v", tid, w, err)
			}
		}
	}
	if err := l.Walk(func(_ Handle, w *futex.Word) bool {
		mark(w)
		return true
	}); err != nil {
		log.Warningf("Thread %d: robust list walk stopped: %v", tid, err)
	}
	// The pending word may have been unlinked but not yet released.
	if w := l.Pending(); w != nil {
		mark(w)
	}
	recoveredCount.IncrementBy(uint64(recovered))
	return recovered
}

// ExitStatus describes how a thread started by Go terminated.
type ExitStatus struct {
	TID uint32

	// Died is true if the thread panicked or called runtime.Goexit.
	Died bool

	// Panic is the recovered panic value, if any.
	Panic any

	// Recovered is the number of words crash recovery marked owner-died.
	Recovered int
}

// Go runs fn on a new goroutine bound to a new Thread. A normal return is a
// clean exit. A panic or runtime.Goexit kills the thread: the panic is
// recovered and reported in the ExitStatus, and crash recovery runs on
// whatever the thread still held.
func (s *Supervisor) Go(fn func(t *Thread)) <-chan ExitStatus {
	t := s.NewThread()
	ch := make(chan ExitStatus, 1)
	go func() {
		returned := false
		defer func() {
			st := ExitStatus{TID: t.tid}
			if returned {
				st.Recovered = t.Exit()
			} else {
				st.Panic = recover()
				st.Died = true
				st.Recovered = t.Die()
			}
			ch <- st
		}()
		fn(t)
		returned = true
	}()
	return ch
}
