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
	"context"
	"errors"
)

// ErrValueChanged is returned by WaitPrepare when the word no longer holds
// the expected value. It is the equivalent of EAGAIN from FUTEX_WAIT.
var ErrValueChanged = errors.New("futex word does not contain the expected value")

// Waker is the blocking half of a futex: it puts the caller to sleep on a
// Word and wakes sleepers. Implementations differ only in where the wait
// queue lives.
type Waker interface {
	// Wait blocks until the caller is woken, but only if w still contains
	// val at the instant the wait queue is entered; otherwise it returns
	// immediately. A nil return does not imply that w changed: spurious
	// wakeups and interrupts also return nil, and callers must re-read w.
	//
	// Wait returns ctx.Err() if ctx is done before a wakeup. Any other
	// error is fatal to the caller.
	Wait(ctx context.Context, w *Word, val uint32) error

	// Wake wakes up to n waiters blocked on w and returns the number woken.
	// Waking a word with no waiters is a no-op.
	Wake(w *Word, n int) (int, error)
}
