// Copyright 2020 The gVisor Authors.
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

package cleanup

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var errLockFailed = errors.New("lock failed")

// lockAll links each word into held and then "locks" it, failing at index
// failAt. Links made before a failure are rolled back in reverse order,
// which unlog records.
func lockAll(held map[string]bool, unlog *[]string, words []string, failAt int) error {
	cu := Make(func() {})
	defer cu.Clean()
	for i, w := range words {
		held[w] = true
		cu.Add(func() {
			delete(held, w)
			*unlog = append(*unlog, w)
		})
		if i == failAt {
			return errLockFailed
		}
	}
	cu.Release()
	return nil
}

func TestLinkRollback(t *testing.T) {
	for _, tc := range []struct {
		name       string
		failAt     int
		wantErr    error
		wantHeld   map[string]bool
		wantUnlink []string
	}{
		{
			name:     "all acquired",
			failAt:   -1,
			wantHeld: map[string]bool{"a": true, "b": true, "c": true},
		},
		{
			name:       "first fails",
			failAt:     0,
			wantErr:    errLockFailed,
			wantHeld:   map[string]bool{},
			wantUnlink: []string{"a"},
		},
		{
			name:       "last fails",
			failAt:     2,
			wantErr:    errLockFailed,
			wantHeld:   map[string]bool{},
			wantUnlink: []string{"c", "b", "a"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			held := map[string]bool{}
			var unlinked []string
			err := lockAll(held, &unlinked, []string{"a", "b", "c"}, tc.failAt)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("lockAll = %v, want %v", err, tc.wantErr)
			}
			if diff := cmp.Diff(tc.wantHeld, held); diff != "" {
				t.Errorf("held mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.wantUnlink, unlinked); diff != "" {
				t.Errorf("unlink order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReleaseReturnsCleaners(t *testing.T) {
	linked := true
	cu := Make(func() { linked = false })
	undo := cu.Release()
	cu.Clean()
	if !linked {
		t.Fatalf("Clean after Release unlinked")
	}
	undo()
	if linked {
		t.Fatalf("released cleaner did not unlink")
	}
}

func TestCleanTwice(t *testing.T) {
	n := 0
	cu := Make(func() { n++ })
	cu.Clean()
	cu.Clean()
	if n != 1 {
		t.Fatalf("cleaner ran %d times, want 1", n)
	}
}
