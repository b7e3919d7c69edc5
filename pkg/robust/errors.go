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

import "errors"

var (
	// ErrListFull is returned when a robust list has no free entries. The
	// lock is not attempted and nothing is left linked.
	ErrListFull = errors.New("robust list is full")

	// ErrListCorrupt is returned when a walk does not reach the end of the
	// list within the list limit.
	ErrListCorrupt = errors.New("robust list is corrupt")

	// ErrRegistrationConflict is returned when a thread registers a list
	// while a different list is registered for the same TID.
	ErrRegistrationConflict = errors.New("a different robust list is already registered for this thread")

	// ErrNotOwner is returned when unlocking a mutex the caller does not
	// hold.
	ErrNotOwner = errors.New("mutex is not owned by this thread")

	// ErrDeadlock is returned when a thread locks a mutex it already holds.
	ErrDeadlock = errors.New("mutex is already held by this thread")

	// ErrThreadExited is returned for operations on a thread that has
	// exited or died.
	ErrThreadExited = errors.New("thread has exited")

	// ErrInvalidTID is returned for thread IDs that do not fit in the owner
	// field of a futex word.
	ErrInvalidTID = errors.New("invalid thread ID")
)
