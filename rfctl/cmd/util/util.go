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

// Package util groups a bunch of common helper functions used by commands.
package util

import (
	"fmt"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/robustfutex/pkg/log"
)

// Fatalf logs the same message as Errorf and exits with status 128.
func Fatalf(format string, args ...any) {
	_ = Errorf(format, args...)
	os.Exit(128)
}

// Errorf logs an error to the debug log and stderr, and returns
// subcommands.ExitFailure.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	fmt.Fprintf(os.Stderr, "rfctl: %s\n", msg)
	return subcommands.ExitFailure
}
