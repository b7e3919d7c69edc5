// Copyright 2018 The gVisor Authors.
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

// Package linux contains the constants and types needed to interface with
// the Linux futex and robust list ABI.
package linux

import (
	"encoding/binary"
	"fmt"
)

// From <linux/futex.h> and <sys/time.h>.
// Flags are used in syscall futex(2).
const (
	FUTEX_WAIT        = 0
	FUTEX_WAKE        = 1
	FUTEX_LOCK_PI     = 6
	FUTEX_UNLOCK_PI   = 7
	FUTEX_TRYLOCK_PI  = 8
	FUTEX_WAIT_BITSET = 9
	FUTEX_WAKE_BITSET = 10

	FUTEX_PRIVATE_FLAG   = 128
	FUTEX_CLOCK_REALTIME = 256
)

// FUTEX_TID_MASK is the TID portion of a PI futex word.
const FUTEX_TID_MASK = 0x3fffffff

// Constants used for priority-inheritance and robust futexes.
const (
	FUTEX_WAITERS    = 0x80000000
	FUTEX_OWNER_DIED = 0x40000000
)

// FUTEX_BITSET_MATCH_ANY has all bits set.
const FUTEX_BITSET_MATCH_ANY = 0xffffffff

// ROBUST_LIST_LIMIT protects against a deliberately circular list.
const ROBUST_LIST_LIMIT = 2048

// RobustListHead corresponds to Linux's struct robust_list_head.
type RobustListHead struct {
	List          uint64
	FutexOffset   uint64
	ListOpPending uint64
}

// SizeOfRobustListHead is the size of a RobustListHead struct.
const SizeOfRobustListHead = 24

// MarshalBytes serializes h into dst. Both supported architectures (amd64,
// arm64) are little-endian.
//
// Preconditions: len(dst) >= SizeOfRobustListHead.
func (h *RobustListHead) MarshalBytes(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:], h.List)
	binary.LittleEndian.PutUint64(dst[8:], h.FutexOffset)
	binary.LittleEndian.PutUint64(dst[16:], h.ListOpPending)
}

// UnmarshalBytes deserializes h from src.
//
// Preconditions: len(src) >= SizeOfRobustListHead.
func (h *RobustListHead) UnmarshalBytes(src []byte) {
	h.List = binary.LittleEndian.Uint64(src[0:])
	h.FutexOffset = binary.LittleEndian.Uint64(src[8:])
	h.ListOpPending = binary.LittleEndian.Uint64(src[16:])
}

// String implements fmt.Stringer.String.
func (h RobustListHead) String() string {
	return fmt.Sprintf("{list: %#x, futex_offset: %d, list_op_pending: %#x}", h.List, h.FutexOffset, h.ListOpPending)
}
