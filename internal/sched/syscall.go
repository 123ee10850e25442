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

package sched

import (
	"github.com/mkernel/kernel-core/internal/kdomain"
	"github.com/mkernel/kernel-core/internal/kstatus"
)

var errIrqlNotLessOrEqual = kstatus.New(kstatus.IrqlNotLessOrEqual, "")

// SyscallFunc is one entry of internal/ksyscall's dispatch table: a kernel
// operation invoked on behalf of a running task, given the task's handle
// for blocking and its arguments as an opaque slice.
type SyscallFunc func(h *TaskHandle, args []interface{}) (interface{}, error)

// Enter is the syscall entry point of §4.3: it validates the caller's ring
// against the syscall's required ring, delivers any pending signals
// (honoring SIGKILL's uncatchable priority) before dispatch, and only then
// invokes fn. minRing is the lowest-numbered (most privileged) ring the
// syscall is restricted to — callers whose ring is numerically greater
// (less privileged) than minRing are refused. Capability-surface filtering
// by ring (which syscalls even exist at a given ring) is internal/ksyscall
// and internal/capsurface's job, upstream of Enter.
func (s *Scheduler) Enter(h *TaskHandle, minRing Ring, fn SyscallFunc, args []interface{}) (interface{}, error) {
	p := s.mustLookup(h.pid)
	if p == nil {
		return nil, kdomain.ErrNoSuchProcess(h.pid)
	}
	if !p.Ring.AtLeast(minRing) {
		return nil, kstatus.New(kstatus.AccessDenied, "pid %d ring %v below required %v", h.pid, p.Ring, minRing)
	}

	if h.deliverPendingSignals() {
		return nil, kstatus.New(kstatus.NotFound, "pid %d killed before syscall dispatch", h.pid)
	}

	return fn(h, args)
}
