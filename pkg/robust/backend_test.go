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

import (
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"gvisor.dev/robustfutex/pkg/futex"
)

type backend struct {
	name     string
	newWaker func() futex.Waker
}

// backends are the Wakers every mutex test runs against. Platform files
// append to it.
var backends = []backend{
	{
		name:     "emulated",
		newWaker: func() futex.Waker { return futex.NewManager() },
	},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s *Supervisor)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, NewSupervisor(Opts{Waker: b.newWaker()}))
		})
	}
}

// waitForWaiters polls until m's waiters bit is set.
func waitForWaiters(t *testing.T, m *Mutex) {
	t.Helper()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(func() error {
		if !m.State().Waiters {
			return fmt.Errorf("no waiters: %v", m.State())
		}
		return nil
	}, b); err != nil {
		t.Fatalf("waiting for a blocked locker: %v", err)
	}
}
