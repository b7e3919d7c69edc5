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
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/robustfutex/pkg/robust"
	"gvisor.dev/robustfutex/rfctl/cmd/util"
	"gvisor.dev/robustfutex/rfctl/config"
	"gvisor.dev/robustfutex/rfctl/flag"
)

// Demo implements subcommands.Command for the "demo" command.
type Demo struct{}

// Name implements subcommands.Command.Name.
func (*Demo) Name() string {
	return "demo"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Demo) Synopsis() string {
	return "run two threads contending for one robust mutex"
}

// Usage implements subcommands.Command.Usage.
func (*Demo) Usage() string {
	return `demo [--hold=<duration>] - thread A locks and holds the mutex for --hold while
thread B blocks on it; B acquires once A unlocks.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Demo) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Demo) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	s := newSupervisor(conf)

	var m robust.Mutex
	a, b := s.NewThread(), s.NewThread()
	defer a.Exit()
	defer b.Exit()
	start := time.Now()
	report := func(who, what string) {
		fmt.Printf("%8v  %s %-9s word: %s\n", time.Since(start).Round(time.Millisecond), who, what, m.State())
	}

	if _, err := m.Lock(a); err != nil {
		return util.Errorf("thread A: lock: %v", err)
	}
	report("A", "locked")

	var g errgroup.Group
	g.Go(func() error {
		report("B", "locking")
		if _, err := m.LockContext(ctx, b); err != nil {
			return fmt.Errorf("thread B: lock: %w", err)
		}
		report("B", "locked")
		fmt.Printf("B's robust list: %s\n", b.DumpList())
		if err := m.Unlock(b); err != nil {
			return fmt.Errorf("thread B: unlock: %w", err)
		}
		report("B", "unlocked")
		return nil
	})

	time.Sleep(conf.Hold)
	fmt.Printf("A's robust list: %s\n", a.DumpList())
	if err := m.Unlock(a); err != nil {
		return util.Errorf("thread A: unlock: %v", err)
	}
	report("A", "unlocked")

	if err := g.Wait(); err != nil {
		return util.Errorf("%v", err)
	}
	fmt.Printf("final word: %s (%#x)\n", m.State(), m.Word().Load())
	return subcommands.ExitSuccess
}
