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

package linux

import (
	"testing"
	"unsafe"
)

func TestRobustListHeadSize(t *testing.T) {
	if got := unsafe.Sizeof(RobustListHead{}); got != SizeOfRobustListHead {
		t.Errorf("unsafe.Sizeof(RobustListHead{}) = %d, want %d", got, SizeOfRobustListHead)
	}
}

func TestRobustListHeadBytes(t *testing.T) {
	h := RobustListHead{
		List:          0x7f0000001000,
		FutexOffset:   8,
		ListOpPending: 0x7f0000001010,
	}
	buf := make([]byte, SizeOfRobustListHead)
	h.MarshalBytes(buf)
	if buf[8] != 8 {
		t.Errorf("futex_offset low byte = %d, want 8", buf[8])
	}
	var got RobustListHead
	got.UnmarshalBytes(buf)
	if got != h {
		t.Errorf("UnmarshalBytes(MarshalBytes(%v)) = %v", h, got)
	}
}

func TestFutexBitsDisjoint(t *testing.T) {
	if FUTEX_TID_MASK&FUTEX_WAITERS != 0 || FUTEX_TID_MASK&FUTEX_OWNER_DIED != 0 || FUTEX_WAITERS&FUTEX_OWNER_DIED != 0 {
		t.Errorf("futex word fields overlap: tid %#x, waiters %#x, owner died %#x", FUTEX_TID_MASK, FUTEX_WAITERS, FUTEX_OWNER_DIED)
	}
}
