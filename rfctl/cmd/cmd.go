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

// Package cmd holds implementations of the rfctl commands.
package cmd

import (
	"gvisor.dev/robustfutex/pkg/futex"
	"gvisor.dev/robustfutex/pkg/robust"
	"gvisor.dev/robustfutex/rfctl/config"
)

// newWaker returns the Waker selected by conf.
func newWaker(conf *config.Config) futex.Waker {
	if conf.Backend == config.BackendHost {
		return futex.HostWaker{}
	}
	return futex.NewManager()
}

// newSupervisor returns a Supervisor configured by conf.
func newSupervisor(conf *config.Config) *robust.Supervisor {
	return robust.NewSupervisor(robust.Opts{
		Waker:     newWaker(conf),
		ListLimit: conf.ListLimit,
	})
}
