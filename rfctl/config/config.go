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

// Package config provides basic infrastructure to set configuration settings
// for rfctl. Each setting that can be changed from the command line or from
// a configuration file must be added to Config, with a "flag" tag naming the
// flag and a "toml" tag naming the key in the file.
package config

import (
	"fmt"
	"time"

	"gvisor.dev/robustfutex/pkg/abi/linux"
	"gvisor.dev/robustfutex/pkg/log"
)

// Config holds configuration that is not part of the subcommands' own
// flags.
type Config struct {
	// File is the path of a TOML configuration file. Values in the file
	// override flag defaults; flags given on the command line override the
	// file.
	File string `flag:"config" toml:"-"`

	// Backend selects the futex wait queue implementation.
	Backend Backend `flag:"backend" toml:"backend"`

	// ListLimit is the capacity of each thread's robust list.
	ListLimit int `flag:"list-limit" toml:"list-limit"`

	// Debug enables debug logging.
	Debug bool `flag:"debug" toml:"debug"`

	// LogFormat is the log format: text or json.
	LogFormat string `flag:"log-format" toml:"log-format"`

	// Threads is the number of threads used by multi-threaded commands.
	Threads int `flag:"threads" toml:"threads"`

	// Iterations is the number of lock/unlock pairs per thread.
	Iterations int `flag:"iterations" toml:"iterations"`

	// Mutexes is the number of mutexes shared by the threads.
	Mutexes int `flag:"mutexes" toml:"mutexes"`

	// Hold is how long a thread holds a lock in the demonstration commands.
	Hold time.Duration `flag:"hold" toml:"hold"`
}

func (c *Config) validate() error {
	if c.ListLimit < 1 || c.ListLimit > linux.ROBUST_LIST_LIMIT {
		return fmt.Errorf("list-limit must be in [1, %d], got %d", linux.ROBUST_LIST_LIMIT, c.ListLimit)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format %q, want text or json", c.LogFormat)
	}
	if c.Threads < 1 {
		return fmt.Errorf("threads must be positive, got %d", c.Threads)
	}
	if c.Iterations < 0 {
		return fmt.Errorf("iterations must not be negative, got %d", c.Iterations)
	}
	if c.Mutexes < 1 || c.Mutexes > c.ListLimit {
		return fmt.Errorf("mutexes must be in [1, list-limit=%d], got %d", c.ListLimit, c.Mutexes)
	}
	if c.Hold < 0 {
		return fmt.Errorf("hold must not be negative, got %v", c.Hold)
	}
	return nil
}

// Log logs important aspects of the configuration at debug level.
func (c *Config) Log() {
	log.Debugf("Config:")
	log.Debugf("\t\tBackend: %v", c.Backend)
	log.Debugf("\t\tListLimit: %d", c.ListLimit)
	log.Debugf("\t\tDebug: %t", c.Debug)
	log.Debugf("\t\tThreads: %d, Iterations: %d, Mutexes: %d, Hold: %v", c.Threads, c.Iterations, c.Mutexes, c.Hold)
}

// Backend selects the futex wait queue implementation.
type Backend int

const (
	// BackendEmulated keeps wait queues in process, with futex.Manager.
	BackendEmulated Backend = iota

	// BackendHost uses the host kernel's futex(2).
	BackendHost
)

func backendPtr(b Backend) *Backend {
	return &b
}

// Set implements flag.Value.Set.
func (b *Backend) Set(v string) error {
	switch v {
	case "emulated":
		*b = BackendEmulated
	case "host":
		*b = BackendHost
	default:
		return fmt.Errorf("invalid backend %q, want emulated or host", v)
	}
	return nil
}

// Get implements flag.Getter.Get.
func (b *Backend) Get() any {
	return *b
}

// String implements flag.Value.String.
func (b Backend) String() string {
	switch b {
	case BackendEmulated:
		return "emulated"
	case BackendHost:
		return "host"
	default:
		panic(fmt.Sprintf("Invalid backend %d", int(b)))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.UnmarshalText, for
// configuration files.
func (b *Backend) UnmarshalText(text []byte) error {
	return b.Set(string(text))
}
