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

package futex

import (
	"context"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
	"gvisor.dev/robustfutex/pkg/abi/linux"
)

// DefaultWaitSlice bounds a single FUTEX_WAIT when the caller's context can
// be cancelled, since a blocked futex(2) call cannot observe ctx.Done().
const DefaultWaitSlice = 10 * time.Millisecond

// HostWaker implements Waker with the host kernel's futex(2) wait queues.
//
// The zero value uses shared futex operations and DefaultWaitSlice.
type HostWaker struct {
	// Private selects FUTEX_PRIVATE_FLAG. It must be false for words that the
	// kernel may recover from a robust list: the kernel's owner-died wakeup
	// is a shared wake, and shared and private waiters on the same address
	// do not interoperate.
	Private bool

	// Slice overrides DefaultWaitSlice.
	Slice time.Duration
}

func (h HostWaker) op(op uintptr) uintptr {
	if h.Private {
		op |= linux.FUTEX_PRIVATE_FLAG
	}
	return op
}

// Wait implements Waker.Wait.
func (h HostWaker) Wait(ctx context.Context, w *Word, val uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var ts *unix.Timespec
	if ctx.Done() != nil {
		d := h.Slice
		if d <= 0 {
			d = DefaultWaitSlice
		}
		if deadline, ok := ctx.Deadline(); ok {
			if r := time.Until(deadline); r < d {
				d = r
			}
		}
		if d <= 0 {
			d = time.Microsecond
		}
		t := unix.NsecToTimespec(d.Nanoseconds())
		ts = &t
	}
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(w.Ptr())), h.op(linux.FUTEX_WAIT), uintptr(val), uintptr(unsafe.Pointer(ts)), 0, 0)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		// Woken, value changed, or interrupted. All look the same to the
		// caller, who must re-read the word.
		return nil
	case unix.ETIMEDOUT:
		// End of a slice; nil unless ctx is now done.
		return ctx.Err()
	default:
		return fmt.Errorf("FUTEX_WAIT: %w", errno)
	}
}

// Wake implements Waker.Wake.
func (h HostWaker) Wake(w *Word, n int) (int, error) {
	r, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(w.Ptr())), h.op(linux.FUTEX_WAKE), uintptr(n), 0, 0, 0)
	if errno != 0 {
		return 0, fmt.Errorf("FUTEX_WAKE: %w", errno)
	}
	return int(r), nil
}
