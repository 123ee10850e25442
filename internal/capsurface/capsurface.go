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

// Package capsurface supplements the scheduler's syscall entry point with
// the ring-scoped capability surface the vendored environment's spawn path
// assumed ("compiles in a fresh sandbox environment that exposes only the
// approved capability surface for the ring", spec.md §4.3): a syscall name
// visible at one ring may be absent entirely at a less-privileged one,
// rather than merely access-denied once called.
package capsurface

import (
	"sync"

	"github.com/mkernel/kernel-core/internal/kstatus"
	"github.com/mkernel/kernel-core/internal/ktypes"
)

// Table is a per-ring set of visible syscall names, consulted by the
// syscall entry point before ring validation proper (a syscall absent from
// the caller's ring surface never reaches its handler at all).
type Table struct {
	mu      sync.RWMutex
	surface map[ktypes.Ring]map[string]struct{}
}

// New builds an empty table; every ring starts with no visible syscalls
// until Grant is called, mirroring a fresh sandbox with nothing exposed.
func New() *Table {
	return &Table{surface: make(map[ktypes.Ring]map[string]struct{})}
}

// Grant adds name to every ring at least as privileged as minRing (lower
// ring numbers are more privileged, per ktypes.Ring.AtLeast), so a single
// call can expose a syscall kernel-wide (minRing = Ring3) or restrict it to
// Ring0/Ring1 callers only.
func (t *Table) Grant(minRing ktypes.Ring, names ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ring := range []ktypes.Ring{ktypes.Ring0, ktypes.Ring1, ktypes.Ring2, ktypes.Ring2_5, ktypes.Ring3} {
		if !ring.AtLeast(minRing) {
			continue
		}
		set, ok := t.surface[ring]
		if !ok {
			set = make(map[string]struct{})
			t.surface[ring] = set
		}
		for _, n := range names {
			set[n] = struct{}{}
		}
	}
}

// Check reports whether name is visible at ring, returning access_denied
// when it is not.
func (t *Table) Check(ring ktypes.Ring, name string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if set, ok := t.surface[ring]; ok {
		if _, ok := set[name]; ok {
			return nil
		}
	}
	return kstatus.New(kstatus.AccessDenied, "syscall %q not in ring %v's capability surface", name, ring)
}

// DefaultSurface builds the table spec.md §6 implies: every syscall is
// visible to Ring0-Ring2 (drivers and kernel-adjacent code), Ring2_5/Ring3
// (ordinary and instrumented user code) only get the process/ob/vfs/ke/
// signal surface — dk_* device-management syscalls stay a Ring0-Ring2
// facility, matching "drivers run at ring 2" (§3) and keeping device
// creation out of unprivileged reach.
func DefaultSurface() *Table {
	t := New()

	driverOnly := []string{
		"dk_create_device", "dk_delete_device", "dk_create_symbolic_link",
		"dk_complete_request", "dk_register_interrupt", "dk_dispatch_irp",
		"kernel_set_log_mode", "kernel_panic",
	}
	t.Grant(ktypes.Ring2, driverOnly...)

	general := []string{
		"process_spawn", "process_kill", "process_wait", "process_get_pid",
		"process_get_ring", "process_elevate", "process_get_synapse_token",
		"ob_create_object", "ob_insert_object", "ob_lookup", "ob_open_handle",
		"ob_create_handle", "ob_reference_by_handle", "ob_close_handle",
		"ob_get_standard_handle", "ob_set_standard_handle", "ob_inherit_handles",
		"vfs_open", "vfs_read", "vfs_write", "vfs_close", "vfs_device_control",
		"ke_create_event", "ke_set_event", "ke_reset_event", "ke_pulse_event",
		"ke_create_mutex", "ke_release_mutex", "ke_create_semaphore",
		"ke_release_semaphore", "ke_create_pipe", "ke_create_section",
		"ke_map_section", "ke_create_mqueue", "ke_mq_send", "ke_mq_receive",
		"ke_wait_single", "ke_wait_multiple",
		"signal_handle", "signal_send", "signal_mask", "signal_pull",
	}
	t.Grant(ktypes.Ring3, general...)

	return t
}
