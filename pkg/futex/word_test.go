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

package futex

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTryAcquire(t *testing.T) {
	var w Word
	if ok, died := w.TryAcquire(7); !ok || died {
		t.Fatalf("TryAcquire on unlocked word: got (%t, %t), want (true, false)", ok, died)
	}
	if got := w.Load(); got != 7 {
		t.Errorf("word = %#x, want 7", got)
	}
	if ok, _ := w.TryAcquire(8); ok {
		t.Errorf("TryAcquire succeeded on a word owned by %d", w.Owner())
	}
	if got := w.Owner(); got != 7 {
		t.Errorf("Owner() = %d, want 7", got)
	}
}

func TestTryAcquirePreservesWaiters(t *testing.T) {
	var w Word
	w.MarkWaiting()
	if ok, _ := w.TryAcquire(3); !ok {
		t.Fatal("TryAcquire failed on an unowned word with waiters set")
	}
	if got, want := w.Load(), 3|Waiters; got != want {
		t.Errorf("word = %#x, want %#x", got, want)
	}
}

func TestTryAcquireContended(t *testing.T) {
	var w Word
	if ok, _ := w.TryAcquireContended(3); !ok {
		t.Fatal("TryAcquireContended failed on unlocked word")
	}
	if got, want := w.Load(), 3|Waiters; got != want {
		t.Errorf("word = %#x, want %#x", got, want)
	}
}

func TestOwnerDiedLifecycle(t *testing.T) {
	var w Word
	w.TryAcquire(5)
	w.MarkWaiting()

	if marked, _ := w.MarkOwnerDied(6); marked {
		t.Fatal("MarkOwnerDied marked a word owned by another thread")
	}
	marked, wake := w.MarkOwnerDied(5)
	if !marked || !wake {
		t.Fatalf("MarkOwnerDied(5) = (%t, %t), want (true, true)", marked, wake)
	}
	if got, want := w.Load(), Waiters|OwnerDied; got != want {
		t.Fatalf("word = %#x, want %#x", got, want)
	}
	if got := w.State().Kind; got != StateOwnerDied {
		t.Errorf("State().Kind = %v, want StateOwnerDied", got)
	}

	// The next acquirer observes the death and clears the bit.
	ok, died := w.TryAcquire(9)
	if !ok || !died {
		t.Fatalf("TryAcquire after death = (%t, %t), want (true, true)", ok, died)
	}
	if got, want := w.Load(), 9|Waiters; got != want {
		t.Errorf("word = %#x, want %#x", got, want)
	}

	// A second recovery pass for the dead thread is a no-op.
	if marked, _ := w.MarkOwnerDied(5); marked {
		t.Error("MarkOwnerDied re-marked a word that changed hands")
	}
}

func TestMarkOwnerDiedWithoutWaiters(t *testing.T) {
	var w Word
	w.TryAcquire(5)
	marked, wake := w.MarkOwnerDied(5)
	if !marked || wake {
		t.Fatalf("MarkOwnerDied(5) = (%t, %t), want (true, false)", marked, wake)
	}
	if got := w.Load(); got != OwnerDied {
		t.Errorf("word = %#x, want %#x", got, OwnerDied)
	}
}

func TestMarkWaitingReturnsObservedValue(t *testing.T) {
	var w Word
	w.TryAcquire(4)
	if got, want := w.MarkWaiting(), 4|Waiters; got != want {
		t.Errorf("MarkWaiting() = %#x, want %#x", got, want)
	}
	if prev := w.Release(); prev != 4|Waiters {
		t.Errorf("Release() = %#x, want %#x", prev, 4|Waiters)
	}
	if got := w.Load(); got != 0 {
		t.Errorf("word after Release = %#x, want 0", got)
	}
}

func TestDecode(t *testing.T) {
	for _, tc := range []struct {
		raw  uint32
		want State
		str  string
	}{
		{
			raw:  0,
			want: State{Kind: StateUnlocked},
			str:  "unlocked",
		},
		{
			raw:  42,
			want: State{Kind: StateLocked, Owner: 42, Raw: 42},
			str:  "locked-by:42",
		},
		{
			raw:  42 | Waiters,
			want: State{Kind: StateLockedWithWaiters, Owner: 42, Waiters: true, Raw: 42 | Waiters},
			str:  "locked-with-waiters:42",
		},
		{
			raw:  OwnerDied,
			want: State{Kind: StateOwnerDied, Raw: OwnerDied},
			str:  "owner-died",
		},
		{
			raw:  OwnerDied | Waiters,
			want: State{Kind: StateOwnerDied, Waiters: true, Raw: OwnerDied | Waiters},
			str:  "owner-died",
		},
		{
			// Waiters may linger on an unowned word after a racing release.
			raw:  Waiters,
			want: State{Kind: StateUnlocked, Waiters: true, Raw: Waiters},
			str:  "unlocked",
		},
	} {
		got := Decode(tc.raw)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("Decode(%#x) mismatch (-want +got):\n%s", tc.raw, diff)
		}
		if s := got.String(); s != tc.str {
			t.Errorf("Decode(%#x).String() = %q, want %q", tc.raw, s, tc.str)
		}
	}
}
