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
	"runtime"
	"testing"
	"time"
	"unsafe"

	"github.com/cenkalti/backoff"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
	"gvisor.dev/robustfutex/pkg/abi/linux"
	"gvisor.dev/robustfutex/pkg/futex"
)

func newRegion(t *testing.T, heads, locks int) *Region {
	t.Helper()
	r, err := NewRegion(heads, locks)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	return r
}

// onDyingThread runs fn on a goroutine locked to its own OS thread, and
// leaves the thread locked so that it is terminated when fn returns.
func onDyingThread(fn func(tid uint32)) {
	go func() {
		runtime.LockOSThread()
		fn(uint32(unix.Gettid()))
	}()
}

// waitFor polls until cond returns nil.
func waitFor(t *testing.T, cond func() error) {
	t.Helper()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(cond, b); err != nil {
		t.Fatal(err)
	}
}

func TestLayout(t *testing.T) {
	if got := unsafe.Sizeof(Head{}); got != linux.SizeOfRobustListHead {
		t.Errorf("sizeof(Head) = %d, want %d", got, linux.SizeOfRobustListHead)
	}
	if got := unsafe.Offsetof(Lock{}.word); got != FutexOffset {
		t.Errorf("offsetof(Lock.word) = %d, want %d", got, FutexOffset)
	}
}

func TestEmptyHead(t *testing.T) {
	r := newRegion(t, 1, 0)
	defer r.Close()
	h := r.Head(0)
	want := linux.RobustListHead{
		List:        h.addr(),
		FutexOffset: FutexOffset,
	}
	if diff := cmp.Diff(want, h.ABI()); diff != "" {
		t.Errorf("ABI() mismatch (-want +got):\n%s", diff)
	}
	if got := h.String(); got != "NULL" {
		t.Errorf("String() = %q, want NULL", got)
	}
}

func TestRegionClose(t *testing.T) {
	r := newRegion(t, 1, 1)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := NewRegion(0, 0); err == nil {
		t.Errorf("NewRegion(0, 0) succeeded, want error")
	}
}

func TestLinkUnlink(t *testing.T) {
	r := newRegion(t, 1, 3)
	defer r.Close()
	h := r.Head(0)
	const tid = 42
	w := futex.NewManager()
	for i := 0; i < 3; i++ {
		if _, err := h.Lock(context.Background(), r.Lock(i), tid, w); err != nil {
			t.Fatalf("Lock(%d): %v", i, err)
		}
	}
	want := []uint64{r.Lock(2).addr(), r.Lock(1).addr(), r.Lock(0).addr()}
	var got []uint64
	for _, l := range h.Held() {
		got = append(got, l.addr())
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Held() mismatch (-want +got):\n%s", diff)
	}
	if s := h.String(); s == "NULL" {
		t.Errorf("String() = %q with three locks held", s)
	}
	if _, err := h.Lock(context.Background(), r.Lock(1), tid, w); !errors.Is(err, ErrDeadlock) {
		t.Errorf("relock = %v, want %v", err, ErrDeadlock)
	}
	if err := h.Unlock(r.Lock(1), tid+1, w); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Unlock by non-owner = %v, want %v", err, ErrNotOwner)
	}
	for _, i := range []int{1, 2, 0} {
		if err := h.Unlock(r.Lock(i), tid, w); err != nil {
			t.Fatalf("Unlock(%d): %v", i, err)
		}
	}
	if got := h.Held(); len(got) != 0 {
		t.Errorf("Held() after unlocks = %v, want empty", got)
	}
	if got := h.ABI(); got.List != h.addr() || got.ListOpPending != 0 {
		t.Errorf("ABI() after unlocks = %+v, want empty list with nothing pending", got)
	}
	for i := 0; i < 3; i++ {
		if got := r.Lock(i).Word().Load(); got != 0 {
			t.Errorf("lock %d word = %#x, want 0", i, got)
		}
	}
}

var (
	errWakeFailed = errors.New("wake failed")
	errWaitFailed = errors.New("wait failed")
)

// releasingWaker releases the word during every Wait, then fails the Wait.
// Every Wake fails.
type releasingWaker struct{}

// Wait implements futex.Waker.Wait.
func (releasingWaker) Wait(_ context.Context, w *futex.Word, _ uint32) error {
	w.Release()
	return errWaitFailed
}

// Wake implements futex.Waker.Wake.
func (releasingWaker) Wake(*futex.Word, int) (int, error) {
	return 0, errWakeFailed
}

func TestWakeFailures(t *testing.T) {
	r := newRegion(t, 1, 2)
	defer r.Close()
	h := r.Head(0)
	const tid = 42
	var w releasingWaker

	// Lock 0: a held lock with waiters whose release wake fails.
	if _, err := h.Lock(context.Background(), r.Lock(0), tid, w); err != nil {
		t.Fatalf("Lock(0): %v", err)
	}
	r.Lock(0).Word().MarkWaiting()
	if err := h.Unlock(r.Lock(0), tid, w); !errors.Is(err, errWakeFailed) {
		t.Errorf("Unlock = %v, want %v", err, errWakeFailed)
	}
	if got := r.Lock(0).Word().Load(); got != 0 {
		t.Errorf("word after Unlock = %#x, want 0", got)
	}

	// Lock 1: held by another thread; the waiter's wait fails just as it
	// is released, and passing the wake on fails too.
	if ok, _ := r.Lock(1).Word().TryAcquire(tid + 1); !ok {
		t.Fatalf("TryAcquire(lock 1) failed")
	}
	_, err := h.Lock(context.Background(), r.Lock(1), tid, w)
	if !errors.Is(err, errWaitFailed) || !errors.Is(err, errWakeFailed) {
		t.Errorf("Lock(1) = %v, want %v joined with %v", err, errWaitFailed, errWakeFailed)
	}
	if got := h.Held(); len(got) != 0 {
		t.Errorf("Held() after abandoned Lock = %d entries, want empty", len(got))
	}
}

func TestRegisterGet(t *testing.T) {
	r := newRegion(t, 1, 0)
	defer r.Close()
	h := r.Head(0)

	errc := make(chan error, 1)
	onDyingThread(func(uint32) {
		errc <- func() error {
			if err := h.Register(); err != nil {
				return err
			}
			addr, size, err := Get(0)
			if err != nil {
				return err
			}
			if uint64(addr) != h.addr() || size != linux.SizeOfRobustListHead {
				return fmt.Errorf("get_robust_list = (%#x, %d), want (%#x, %d)", addr, size, h.addr(), linux.SizeOfRobustListHead)
			}
			if ok, err := h.Registered(); err != nil || !ok {
				return fmt.Errorf("Registered() = (%t, %v), want (true, nil)", ok, err)
			}
			return nil
		}()
	})
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
}

// TestKernelRecovery kills a thread holding a lock and checks that the
// kernel marks the lock owner-died.
func TestKernelRecovery(t *testing.T) {
	r := newRegion(t, 2, 1)
	// The dying thread's list must stay mapped until the kernel is done
	// with it, which the polling below waits for.
	defer r.Close()
	l := r.Lock(0)
	w := futex.HostWaker{}

	errc := make(chan error, 1)
	onDyingThread(func(tid uint32) {
		h := r.Head(0)
		if err := h.Register(); err != nil {
			errc <- err
			return
		}
		if _, err := h.Lock(context.Background(), l, tid, w); err != nil {
			errc <- err
			return
		}
		errc <- nil
	})
	if err := <-errc; err != nil {
		t.Fatalf("dying thread: %v", err)
	}

	waitFor(t, func() error {
		if st := l.State(); st.Kind != futex.StateOwnerDied {
			return fmt.Errorf("lock state = %v, want owner-died", st)
		}
		return nil
	})

	type result struct {
		died bool
		err  error
	}
	done := make(chan result, 1)
	onDyingThread(func(tid uint32) {
		h := r.Head(1)
		if err := h.Register(); err != nil {
			done <- result{err: err}
			return
		}
		died, err := h.Lock(context.Background(), l, tid, w)
		if err == nil {
			err = h.Unlock(l, tid, w)
		}
		done <- result{died, err}
	})
	if res := <-done; res.err != nil || !res.died {
		t.Errorf("Lock after owner death = (%t, %v), want (true, nil)", res.died, res.err)
	}
}

// TestKernelRecoveryWakesWaiter checks that the kernel wakes a thread
// blocked on a lock whose owner dies.
func TestKernelRecoveryWakesWaiter(t *testing.T) {
	r := newRegion(t, 2, 1)
	defer r.Close()
	l := r.Lock(0)
	w := futex.HostWaker{}

	locked := make(chan error, 1)
	die := make(chan struct{})
	onDyingThread(func(tid uint32) {
		h := r.Head(0)
		if err := h.Register(); err != nil {
			locked <- err
			return
		}
		_, err := h.Lock(context.Background(), l, tid, w)
		locked <- err
		<-die
	})
	if err := <-locked; err != nil {
		t.Fatalf("owner: %v", err)
	}

	type result struct {
		died bool
		err  error
	}
	done := make(chan result, 1)
	onDyingThread(func(tid uint32) {
		h := r.Head(1)
		if err := h.Register(); err != nil {
			done <- result{err: err}
			return
		}
		died, err := h.Lock(context.Background(), l, tid, w)
		if err == nil {
			err = h.Unlock(l, tid, w)
		}
		done <- result{died, err}
	})
	waitFor(t, func() error {
		if !l.State().Waiters {
			return fmt.Errorf("no waiter yet: %v", l.State())
		}
		return nil
	})

	close(die)
	select {
	case res := <-done:
		if res.err != nil || !res.died {
			t.Errorf("waiter Lock = (%t, %v), want (true, nil)", res.died, res.err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("waiter not woken after the owner died")
	}
}
