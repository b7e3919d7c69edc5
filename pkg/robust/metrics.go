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

package robust

import "gvisor.dev/robustfutex/pkg/metric"

// Acquisition paths, the values of the "path" field of acquiredCount.
const (
	pathFast = "fast"
	pathSlow = "slow"
)

var (
	acquiredCount = metric.MustCreateNewUint64Metric("/robust/acquired",
		"Number of robust mutex acquisitions, by whether the caller had to wait.",
		metric.NewField("path", []string{pathFast, pathSlow}))
	contendedCount = metric.MustCreateNewUint64Metric("/robust/contended",
		"Number of failed acquisition attempts that marked the word as having waiters.")
	waitCount = metric.MustCreateNewUint64Metric("/robust/waits",
		"Number of times a locker blocked on a futex word.")
	wakeCount = metric.MustCreateNewUint64Metric("/robust/wakes",
		"Number of wakeups issued by unlock and crash recovery.")
	ownerDiedCount = metric.MustCreateNewUint64Metric("/robust/owner_died",
		"Number of acquisitions that observed a dead previous owner.")
	recoveredCount = metric.MustCreateNewUint64Metric("/robust/recovered",
		"Number of futex words marked owner-died by crash recovery.")
)
