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

	"github.com/google/subcommands"
	"gvisor.dev/robustfutex/pkg/futex"
	"gvisor.dev/robustfutex/pkg/hostrobust"
	"gvisor.dev/robustfutex/rfctl/cmd/util"
	"gvisor.dev/robustfutex/rfctl/flag"
)

// RobustList implements subcommands.Command for the "robust-list" command.
type RobustList struct {
	locks int
}

// Name implements subcommands.Command.Name.
func (*RobustList) Name() string {
	return "robust-list"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*RobustList) Synopsis() string {
	return "register a kernel robust list and read it back"
}

// Usage implements subcommands.Command.Usage.
func (*RobustList) Usage() string {
	return `robust-list [--locks=<n>] - on a dedicated OS thread, calls set_robust_list(2),
reads the registration back with get_robust_list(2), and dumps the list
while holding --locks locks.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *RobustList) SetFlags(f *flag.FlagSet) {
	f.IntVar(&r.locks, "locks", 2, "number of locks to hold while dumping the list.")
}

// Execute implements subcommands.Command.Execute.
func (r *RobustList) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || r.locks < 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	region, err := hostrobust.NewRegion(1, r.locks)
	if err != nil {
		return util.Errorf("%v", err)
	}
	defer region.Close()
	h := region.Head(0)
	w := futex.HostWaker{}

	res := <-onHostThread(h, func(tid uint32) (bool, error) {
		addr, size, err := hostrobust.Get(0)
		if err != nil {
			return false, err
		}
		fmt.Printf("thread %d: get_robust_list: head %#x, len %d\n", tid, addr, size)
		if ok, err := h.Registered(); err != nil {
			return false, err
		} else if !ok {
			return false, fmt.Errorf("registered head %#x does not match", addr)
		}
		for i := 0; i < r.locks; i++ {
			if _, err := h.Lock(ctx, region.Lock(i), tid, w); err != nil {
				return false, err
			}
		}
		fmt.Printf("head: %s\n", h.ABI())
		fmt.Printf("list: %s\n", h)
		for i := 0; i < r.locks; i++ {
			if err := h.Unlock(region.Lock(i), tid, w); err != nil {
				return false, err
			}
		}
		fmt.Printf("list after unlock: %s\n", h)
		return false, nil
	})
	if res.err != nil {
		return util.Errorf("thread %d: %v", res.tid, res.err)
	}
	return subcommands.ExitSuccess
}
