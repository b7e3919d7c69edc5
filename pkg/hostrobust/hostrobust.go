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

//go:build linux
// +build linux

package hostrobust

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
	"gvisor.dev/robustfutex/pkg/abi/linux"
	"gvisor.dev/robustfutex/pkg/atomicbitops"
	"gvisor.dev/robustfutex/pkg/futex"
)

// FutexOffset is the offset of the futex word within a Lock.
const FutexOffset = 8

var (
	// ErrNotOwner is returned when unlocking a lock the caller does not
	// hold.
	ErrNotOwner = errors.New("lock is not owned by this thread")

	// ErrDeadlock is returned when locking a lock the caller already holds.
	ErrDeadlock = errors.New("lock is already held by this thread")
)

// Lock is a robust lock in kernel layout: a struct robust_list followed by
// the futex word.
type Lock struct {
	next uint64
	word futex.Word
}

// Word returns the lock's futex word.
func (l *Lock) Word() *futex.Word {
	return &l.word
}

// State decodes the lock's futex word.
func (l *Lock) State() futex.State {
	return l.word.State()
}

func (l *Lock) addr() uint64 {
	return uint64(uintptr(unsafe.Pointer(l)))
}

// Head is a struct robust_list_head.
type Head struct {
	next        uint64
	futexOffset int64
	pending     uint64
}

func (h *Head) addr() uint64 {
	return uint64(uintptr(unsafe.Pointer(h)))
}

func (h *Head) init() {
	h.next = h.addr()
	h.futexOffset = FutexOffset
	h.pending = 0
}

// Region is an anonymous mapping holding heads and locks.
type Region struct {
	mem    []byte
	heads  []*Head
	locks  []*Lock
	closed atomicbitops.Bool
}

// NewRegion maps a region with the given number of heads and locks. Heads
// start empty and locks unlocked.
func NewRegion(heads, locks int) (*Region, error) {
	hsz := int(unsafe.Sizeof(Head{}))
	lsz := int(unsafe.Sizeof(Lock{}))
	size := heads*hsz + locks*lsz
	if size == 0 {
		return nil, fmt.Errorf("empty region")
	}
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	r := &Region{mem: mem}
	off := 0
	for i := 0; i < heads; i++ {
		h := (*Head)(unsafe.Pointer(&mem[off]))
		h.init()
		r.heads = append(r.heads, h)
		off += hsz
	}
	for i := 0; i < locks; i++ {
		r.locks = append(r.locks, (*Lock)(unsafe.Pointer(&mem[off])))
		off += lsz
	}
	return r, nil
}

// Head returns the i'th head.
func (r *Region) Head(i int) *Head {
	return r.heads[i]
}

// Lock returns the i'th lock.
func (r *Region) Lock(i int) *Lock {
	return r.locks[i]
}

// Close unmaps the region. No head in it may still be registered by a live
// thread. Close is idempotent.
func (r *Region) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return unix.Munmap(r.mem)
}

// Register installs h as the calling thread's robust list.
//
// Preconditions: the caller holds runtime.LockOSThread.
func (h *Head) Register() error {
	_, _, errno := unix.RawSyscall(unix.SYS_SET_ROBUST_LIST, uintptr(unsafe.Pointer(h)), linux.SizeOfRobustListHead, 0)
	if errno != 0 {
		return fmt.Errorf("set_robust_list: %w", errno)
	}
	return nil
}

// Get returns the address and length of the robust list head registered by
// thread tid, or by the calling thread if tid is 0.
func Get(tid int) (addr uintptr, size uintptr, err error) {
	_, _, errno := unix.RawSyscall(unix.SYS_GET_ROBUST_LIST, uintptr(tid), uintptr(unsafe.Pointer(&addr)), uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, 0, fmt.Errorf("get_robust_list(%d): %w", tid, errno)
	}
	return addr, size, nil
}

// Registered reports whether h is the calling thread's robust list.
func (h *Head) Registered() (bool, error) {
	addr, _, err := Get(0)
	if err != nil {
		return false, err
	}
	return uint64(addr) == h.addr(), nil
}

// ABI decodes h as the kernel sees it.
func (h *Head) ABI() linux.RobustListHead {
	var abi linux.RobustListHead
	abi.UnmarshalBytes(unsafe.Slice((*byte)(unsafe.Pointer(h)), linux.SizeOfRobustListHead))
	return abi
}

// nodeAt converts a list pointer back into a Lock by its offset from h.
//
// Preconditions: addr is h itself or a Lock in the same Region as h.
func (h *Head) nodeAt(addr uint64) *Lock {
	return (*Lock)(unsafe.Add(unsafe.Pointer(h), int(int64(addr)-int64(h.addr()))))
}

// walk calls fn on each lock on the list, stopping early if fn returns
// false. Like the kernel, it gives up after ROBUST_LIST_LIMIT entries.
func (h *Head) walk(fn func(l *Lock) bool) {
	for cur, n := h.next, 0; cur != h.addr() && n < linux.ROBUST_LIST_LIMIT; cur, n = h.nodeAt(cur).next, n+1 {
		if !fn(h.nodeAt(cur)) {
			return
		}
	}
}

func (h *Head) link(l *Lock) {
	l.next = h.next
	h.next = l.addr()
}

func (h *Head) unlink(l *Lock) {
	if h.next == l.addr() {
		h.next = l.next
		return
	}
	h.walk(func(cur *Lock) bool {
		if cur.next == l.addr() {
			cur.next = l.next
			return false
		}
		return true
	})
}

// Held returns the locks on h's list, most recently locked first.
func (h *Head) Held() []*Lock {
	var ls []*Lock
	h.walk(func(l *Lock) bool {
		ls = append(ls, l)
		return true
	})
	return ls
}

// String dumps the list as "0x..(word: 0x..) -> ... -> NULL".
func (h *Head) String() string {
	var b strings.Builder
	h.walk(func(l *Lock) bool {
		fmt.Fprintf(&b, "%#x(word: %#x) -> ", l.addr(), l.word.Load())
		return true
	})
	b.WriteString("NULL")
	return b.String()
}

// Lock acquires l for the calling thread, whose kernel TID is tid, blocking
// in w while it is held elsewhere. The lock is linked into h before the
// first attempt, so the kernel recovers it if the thread dies holding it.
//
// Preconditions: h is registered by the calling thread, and l is in the same
// Region as h.
func (h *Head) Lock(ctx context.Context, l *Lock, tid uint32, w futex.Waker) (ownerDied bool, err error) {
	if l.word.Owner() == tid {
		return false, ErrDeadlock
	}
	h.link(l)
	slept := false
	for {
		var ok bool
		if slept {
			ok, ownerDied = l.word.TryAcquireContended(tid)
		} else {
			ok, ownerDied = l.word.TryAcquire(tid)
		}
		if ok {
			return ownerDied, nil
		}
		val := l.word.MarkWaiting()
		if val&futex.TIDMask == 0 {
			continue
		}
		if err := w.Wait(ctx, &l.word, val); err != nil {
			h.unlink(l)
			if l.word.Owner() == 0 {
				// Pass on a wake this waiter may have consumed.
				if _, werr := w.Wake(&l.word, 1); werr != nil {
					err = errors.Join(err, fmt.Errorf("wake: %w", werr))
				}
			}
			return false, err
		}
		slept = true
	}
}

// Unlock releases l, which the calling thread must hold. The lock is kept
// in list_op_pending between the unlink and the release.
func (h *Head) Unlock(l *Lock, tid uint32, w futex.Waker) error {
	if l.word.Owner() != tid {
		return ErrNotOwner
	}
	h.pending = l.addr()
	h.unlink(l)
	prev := l.word.Release()
	h.pending = 0
	if prev&futex.Waiters != 0 {
		if _, err := w.Wake(&l.word, 1); err != nil {
			return fmt.Errorf("wake: %w", err)
		}
	}
	return nil
}
