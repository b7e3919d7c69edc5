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
	"gvisor.dev/robustfutex/pkg/futex"
	"gvisor.dev/robustfutex/pkg/log"
	"gvisor.dev/robustfutex/pkg/sync"
)

type threadState int

const (
	threadRunning threadState = iota
	threadExited
	threadDead
)

// Thread is a thread of control that can hold robust mutexes. It has a TID,
// stored in the owner field of the futex words it holds, and a robust list.
//
// A Thread is meant to be used by one goroutine at a time.
type Thread struct {
	s   *Supervisor
	tid uint32

	// mu protects the fields below. It is never held while blocking on a
	// futex word.
	mu sync.Mutex

	list       *List
	registered bool
	state      threadState
}

// TID returns the thread ID.
func (t *Thread) TID() uint32 {
	return t.tid
}

// Supervisor returns the supervisor that owns t.
func (t *Thread) Supervisor() *Supervisor {
	return t.s
}

// RegisterList registers t's robust list with the supervisor. It is
// idempotent. Lock and TryLock register the list on first use, so calling
// RegisterList is only needed to surface registration errors early.
func (t *Thread) RegisterList() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != threadRunning {
		return ErrThreadExited
	}
	return t.registerLocked()
}

// Preconditions: t.mu is locked.
func (t *Thread) registerLocked() error {
	if t.registered {
		return nil
	}
	if err := t.s.register(t); err != nil {
		return err
	}
	t.registered = true
	return nil
}

// Held returns the words on t's robust list, most recently locked first.
func (t *Thread) Held() []*futex.Word {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.list.Words()
}

// DumpList returns a printable form of t's robust list.
func (t *Thread) DumpList() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.list.String()
}

// Exit tears t down cleanly. Locks still held are recovered as if t had
// died, and a warning is logged. It returns the number of words recovered.
func (t *Thread) Exit() int {
	return t.exit(threadExited)
}

// Die terminates t abnormally and runs crash recovery on its robust list.
// It returns the number of words marked owner-died.
//
// Preconditions: Die is called by t's own goroutine, or after that
// goroutine has stopped using t.
func (t *Thread) Die() int {
	return t.exit(threadDead)
}

func (t *Thread) exit(state threadState) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != threadRunning {
		return 0
	}
	t.state = state

	if t.list.Len() == 0 && t.list.Pending() == nil {
		if t.registered {
			t.s.deregister(t)
		}
		return 0
	}
	if state == threadExited {
		log.Warningf("Thread %d exited holding %d robust locks: %s", t.tid, t.list.Len(), t.list)
	}
	n := t.s.recoverList(t.tid, t.list)
	if state == threadDead {
		log.Warningf("Thread %d died; %d robust locks marked owner-died", t.tid, n)
	}
	if t.registered {
		t.s.deregister(t)
	}
	t.list = NewList(t.list.Limit())
	return n
}
