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

package cmd

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"gvisor.dev/robustfutex/pkg/futex"
	"gvisor.dev/robustfutex/pkg/hostrobust"
	"gvisor.dev/robustfutex/pkg/log"
	"gvisor.dev/robustfutex/pkg/robust"
	"gvisor.dev/robustfutex/rfctl/cmd/util"
	"gvisor.dev/robustfutex/rfctl/config"
	"gvisor.dev/robustfutex/rfctl/flag"
)

// Crash implements subcommands.Command for the "crash" command.
type Crash struct {
	host bool
}

// Name implements subcommands.Command.Name.
func (*Crash) Name() string {
	return "crash"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Crash) Synopsis() string {
	return "kill a thread holding a robust mutex and recover the mutex"
}

// Usage implements subcommands.Command.Usage.
func (*Crash) Usage() string {
	return `crash [--host] - a thread locks a mutex and dies without unlocking it; a
second thread then locks the mutex and is told that the owner died.

With --host, the thread is a real OS thread with a kernel robust list, and
the host kernel performs the recovery.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Crash) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.host, "host", false, "use a kernel robust list and real thread death.")
}

// Execute implements subcommands.Command.Execute.
func (c *Crash) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	var err error
	if c.host {
		err = crashHost(ctx)
	} else {
		err = crashEmulated(ctx, conf)
	}
	if err != nil {
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

func crashEmulated(ctx context.Context, conf *config.Config) error {
	s := newSupervisor(conf)
	var m robust.Mutex
	st := <-s.Go(func(t *robust.Thread) {
		if _, err := m.Lock(t); err != nil {
			log.Warningf("Thread %d: lock: %v", t.TID(), err)
			return
		}
		fmt.Printf("thread %d locked the mutex: %s\n", t.TID(), m.State())
		panic("simulated crash")
	})
	if !st.Died {
		return fmt.Errorf("thread %d exited without crashing", st.TID)
	}
	fmt.Printf("thread %d died (%v); %d lock(s) recovered: %s\n", st.TID, st.Panic, st.Recovered, m.State())

	t := s.NewThread()
	defer t.Exit()
	died, err := m.LockContext(ctx, t)
	if err != nil {
		return fmt.Errorf("thread %d: lock: %w", t.TID(), err)
	}
	fmt.Printf("thread %d locked the mutex, owner died: %t: %s\n", t.TID(), died, m.State())
	return m.Unlock(t)
}

type hostResult struct {
	tid       uint32
	ownerDied bool
	err       error
}

// onHostThread runs fn on a goroutine locked to its own OS thread with h
// registered as its robust list. The thread is terminated when fn returns.
func onHostThread(h *hostrobust.Head, fn func(tid uint32) (bool, error)) <-chan hostResult {
	ch := make(chan hostResult, 1)
	go func() {
		// Never unlocked: the runtime terminates the thread when this
		// goroutine exits.
		runtime.LockOSThread()
		tid := uint32(unix.Gettid())
		if err := h.Register(); err != nil {
			ch <- hostResult{tid: tid, err: err}
			return
		}
		died, err := fn(tid)
		ch <- hostResult{tid: tid, ownerDied: died, err: err}
	}()
	return ch
}

func crashHost(ctx context.Context) error {
	r, err := hostrobust.NewRegion(2, 1)
	if err != nil {
		return err
	}
	defer r.Close()
	l := r.Lock(0)
	w := futex.HostWaker{}

	res := <-onHostThread(r.Head(0), func(tid uint32) (bool, error) {
		died, err := r.Head(0).Lock(ctx, l, tid, w)
		if err == nil {
			fmt.Printf("thread %d locked the mutex: %s\n", tid, r.Head(0))
		}
		return died, err
	})
	if res.err != nil {
		return fmt.Errorf("thread %d: %w", res.tid, res.err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(func() error {
		if st := l.State(); st.Kind != futex.StateOwnerDied {
			return fmt.Errorf("lock not recovered by the kernel: %s", st)
		}
		return nil
	}, backoff.WithContext(b, ctx)); err != nil {
		return err
	}
	fmt.Printf("thread %d exited; kernel marked the lock: %s (%#x)\n", res.tid, l.State(), l.Word().Load())

	res = <-onHostThread(r.Head(1), func(tid uint32) (bool, error) {
		died, err := r.Head(1).Lock(ctx, l, tid, w)
		if err != nil {
			return false, err
		}
		fmt.Printf("thread %d locked the mutex, owner died: %t: %s\n", tid, died, l.State())
		return died, r.Head(1).Unlock(l, tid, w)
	})
	if res.err != nil {
		return fmt.Errorf("thread %d: %w", res.tid, res.err)
	}
	if !res.ownerDied {
		return fmt.Errorf("thread %d did not observe the owner's death", res.tid)
	}
	return nil
}
