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
	"testing"

	"github.com/google/subcommands"
	"gvisor.dev/robustfutex/rfctl/config"
	"gvisor.dev/robustfutex/rfctl/flag"
)

// run parses args with c's flags and executes c under a configuration built
// from confArgs.
func run(t *testing.T, c subcommands.Command, confArgs []string, args ...string) subcommands.ExitStatus {
	t.Helper()
	confFlags := flag.NewFlagSet("conf", flag.ContinueOnError)
	config.RegisterFlags(confFlags)
	if err := confFlags.Parse(confArgs); err != nil {
		t.Fatalf("parsing %v: %v", confArgs, err)
	}
	conf, err := config.NewFromFlags(confFlags)
	if err != nil {
		t.Fatalf("NewFromFlags: %v", err)
	}
	f := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	c.SetFlags(f)
	if err := f.Parse(args); err != nil {
		t.Fatalf("parsing %v: %v", args, err)
	}
	return c.Execute(context.Background(), f, conf)
}

func TestCommands(t *testing.T) {
	for _, tc := range []struct {
		name     string
		cmd      subcommands.Command
		confArgs []string
		args     []string
	}{
		{
			name:     "demo",
			cmd:      new(Demo),
			confArgs: []string{"--hold=10ms"},
		},
		{
			name:     "demo host",
			cmd:      new(Demo),
			confArgs: []string{"--hold=10ms", "--backend=host"},
		},
		{
			name: "crash",
			cmd:  new(Crash),
		},
		{
			name: "crash host",
			cmd:  new(Crash),
			args: []string{"--host"},
		},
		{
			name:     "stress",
			cmd:      new(Stress),
			confArgs: []string{"--threads=4", "--iterations=200", "--mutexes=3"},
			args:     []string{"--metrics=false", "--crashes=2"},
		},
		{
			name:     "stress host",
			cmd:      new(Stress),
			confArgs: []string{"--threads=4", "--iterations=200", "--backend=host"},
			args:     []string{"--metrics=false"},
		},
		{
			name: "robust-list",
			cmd:  new(RobustList),
			args: []string{"--locks=3"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := run(t, tc.cmd, tc.confArgs, tc.args...); got != subcommands.ExitSuccess {
				t.Errorf("Execute = %v, want %v", got, subcommands.ExitSuccess)
			}
		})
	}
}

func TestUsageErrors(t *testing.T) {
	for _, c := range []subcommands.Command{new(Demo), new(Crash), new(Stress), new(RobustList)} {
		if got := run(t, c, nil, "extra"); got != subcommands.ExitUsageError {
			t.Errorf("%s with extra argument = %v, want %v", c.Name(), got, subcommands.ExitUsageError)
		}
	}
}
