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

// Package hostrobust maintains robust lists that the Linux kernel itself
// walks when a thread exits.
//
// Heads and lock nodes live in an anonymous mapping so that their addresses
// are stable and outside the Go heap. A node is a struct robust_list
// followed by its futex word, so every head uses a futex offset of 8. The
// list is circular, as the kernel expects: an empty list's next pointer
// points at the head itself.
//
// set_robust_list(2) applies to the calling OS thread, so callers must hold
// runtime.LockOSThread for as long as the head is registered. If the
// goroutine then exits without unlocking the thread, the Go runtime
// terminates the thread and the kernel marks every lock it still held as
// owner-died, waking one waiter on each.
//
// The kernel only recovers words whose owner field is the dying thread's
// kernel TID, so lock owners here are always unix.Gettid() values, and waits
// must use shared futex operations to see the kernel's wakeup.
package hostrobust
