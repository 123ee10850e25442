//
// Copyright 2024 The Kernel Core Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package ktypes holds the small set of identifiers shared across the
// kernel's subsystems (Object Manager, Scheduler, IPC, IRP Fabric) so that
// none of those packages has to import another just to name a PID or a
// ring. This mirrors the way the teacher's domain package holds the
// interfaces every service implementation shares.
package ktypes

// PID identifies a process or thread.
type PID uint32

// ObjectID is the arena-wide unique identifier of a kernel object.
type ObjectID uint64

// Ring is a privilege tier. Go has no native fractional enum, so Ring 2.5
// is represented literally as 2.5; ring comparisons use plain float math.
type Ring float32

const (
	Ring0   Ring = 0
	Ring1   Ring = 1
	Ring2   Ring = 2
	Ring2_5 Ring = 2.5
	Ring3   Ring = 3
)

// AtLeast reports whether r carries at least the privilege required by
// min. Lower ring numbers are more privileged (x86-style), so r satisfies
// min whenever r <= min.
func (r Ring) AtLeast(min Ring) bool {
	return r <= min
}

// AccessMode mirrors the standard POSIX access bits, reused for both
// namespace permission checks and IPC handle grants.
type AccessMode uint32

const (
	NoAccess AccessMode = 0
	XAccess  AccessMode = 1 << 0
	WAccess  AccessMode = 1 << 1
	RAccess  AccessMode = 1 << 2
)
