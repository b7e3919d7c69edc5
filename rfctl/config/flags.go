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

package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gvisor.dev/robustfutex/pkg/abi/linux"
	"gvisor.dev/robustfutex/rfctl/flag"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "path to a TOML file with configuration values. Flags given on the command line take precedence.")

	// Debugging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")

	// Flags that control lock behavior.
	flagSet.Var(backendPtr(BackendEmulated), "backend", "futex wait queue implementation: emulated (default) or host.")
	flagSet.Int("list-limit", linux.ROBUST_LIST_LIMIT, "maximum number of locks a thread may hold or wait for at once.")

	// Flags that shape the workloads of the demonstration commands.
	flagSet.Int("threads", 4, "number of threads.")
	flagSet.Int("iterations", 1000, "number of lock/unlock pairs per thread.")
	flagSet.Int("mutexes", 1, "number of mutexes shared by the threads.")
	flagSet.Duration("hold", 50*time.Millisecond, "how long a thread holds a lock in demonstrations.")
}

// NewFromFlags creates a new Config with values coming from the given
// FlagSet, and from the configuration file named by --config, if any.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(flag.Get(fl.Value))
		obj.Field(i).Set(x)
	}

	if conf.File != "" {
		if err := conf.loadFile(flagSet); err != nil {
			return nil, err
		}
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// loadFile overlays the configuration file on c, then re-applies flags that
// were set explicitly.
func (c *Config) loadFile(flagSet *flag.FlagSet) error {
	md, err := toml.DecodeFile(c.File, c)
	if err != nil {
		return fmt.Errorf("reading config file %q: %w", c.File, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("config file %q: unknown keys: %s", c.File, strings.Join(keys, ", "))
	}

	set := make(map[string]bool)
	flagSet.Visit(func(fl *flag.Flag) {
		set[fl.Name] = true
	})
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok || !set[name] {
			continue
		}
		obj.Field(i).Set(reflect.ValueOf(flag.Get(flagSet.Lookup(name).Value)))
	}
	return nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
// Flags at their default value are omitted.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := fmt.Sprintf("%v", obj.Field(i).Interface())
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == fl.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", name, val))
	}
	return rv
}
