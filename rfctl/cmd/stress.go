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
	"os"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/robustfutex/pkg/log"
	"gvisor.dev/robustfutex/pkg/metric"
	"gvisor.dev/robustfutex/pkg/robust"
	"gvisor.dev/robustfutex/rfctl/cmd/util"
	"gvisor.dev/robustfutex/rfctl/config"
	"gvisor.dev/robustfutex/rfctl/flag"
)

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	metrics bool
	crashes int
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "hammer robust mutexes from many threads and check mutual exclusion"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [--crashes=<n>] [--metrics] - --threads threads each lock and unlock one
of --mutexes mutexes --iterations times, incrementing a counter under the
lock. The counters must add up afterwards. With --crashes, that many extra
threads die holding a lock part way through.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&s.metrics, "metrics", true, "print metrics in Prometheus text format when done.")
	f.IntVar(&s.crashes, "crashes", 0, "number of threads that die holding a lock.")
}

type guardedCounter struct {
	mu robust.Mutex
	n  int
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	sup := newSupervisor(conf)
	counters := make([]guardedCounter, conf.Mutexes)
	progress := log.BasicRateLimitedLogger(time.Second)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < conf.Threads; i++ {
		g.Go(func() error {
			t := sup.NewThread()
			defer t.Exit()
			for j := 0; j < conf.Iterations; j++ {
				c := &counters[(i+j)%len(counters)]
				if _, err := c.mu.LockContext(gctx, t); err != nil {
					return fmt.Errorf("thread %d: lock: %w", t.TID(), err)
				}
				v := c.n
				runtime.Gosched()
				c.n = v + 1
				if err := c.mu.Unlock(t); err != nil {
					return fmt.Errorf("thread %d: unlock: %w", t.TID(), err)
				}
				progress.Infof("Thread %d: %d/%d iterations", t.TID(), j+1, conf.Iterations)
			}
			return nil
		})
	}
	for i := 0; i < s.crashes; i++ {
		g.Go(func() error {
			c := &counters[i%len(counters)]
			st := <-sup.Go(func(t *robust.Thread) {
				if _, err := c.mu.LockContext(gctx, t); err != nil {
					return
				}
				c.n++
				runtime.Goexit()
			})
			log.Infof("Crashing thread %d died; %d lock(s) recovered", st.TID, st.Recovered)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return util.Errorf("%v", err)
	}
	elapsed := time.Since(start)

	total := 0
	for i := range counters {
		total += counters[i].n
	}
	want := conf.Threads*conf.Iterations + s.crashes
	fmt.Printf("%d threads, %d mutexes, %d iterations, %d crashes: %d increments in %v\n",
		conf.Threads, conf.Mutexes, conf.Iterations, s.crashes, total, elapsed.Round(time.Millisecond))
	for _, ti := range sup.Threads() {
		fmt.Printf("thread %d still registered, holding %d\n", ti.TID, ti.Held)
	}
	if s.metrics {
		if err := metric.WritePrometheus(os.Stdout); err != nil {
			return util.Errorf("writing metrics: %v", err)
		}
	}
	if total != want {
		return util.Errorf("mutual exclusion violated: %d increments, want %d", total, want)
	}
	return subcommands.ExitSuccess
}
