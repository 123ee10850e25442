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

// Package kdomain holds the interfaces that let the kernel's subsystems
// (Scheduler, Kernel IPC, IRP Fabric) call into one another without
// importing each other's packages directly, the same role the teacher's
// domain package plays for its *Service interfaces: each subsystem is
// constructed against an interface declared here and wired together by
// internal/kernel.
package kdomain

import (
	"time"

	"github.com/mkernel/kernel-core/internal/kstatus"
	"github.com/mkernel/kernel-core/internal/ktypes"
)

// ErrNoSuchProcess is the not_found error returned whenever a subsystem
// addresses a PID the scheduler no longer (or never did) have a table
// entry for.
func ErrNoSuchProcess(pid ktypes.PID) error {
	return kstatus.New(kstatus.NotFound, "pid %d", pid)
}

// WakeReason tells a blocked task why it was resumed.
type WakeReason int

const (
	WakeSatisfied WakeReason = iota
	WakeTimeout
	WakeKilled
)

// WakeResult is delivered to a task blocked via Scheduler.Block when the
// scheduler resumes it.
type WakeResult struct {
	Reason WakeReason
	Value  interface{}
}

// Scheduler is the subset of internal/sched.Scheduler that Kernel IPC and
// the IRP Fabric need: a way to park the calling task and a way to wake one
// back up. Declaring it here (rather than having ipc/irp import sched)
// keeps the dependency edge pointing the way §4.3 describes it: the
// scheduler is below IPC and IRP, never the reverse.
type Scheduler interface {
	// Block parks pid until Wake(pid, ...) is called, deadline elapses (if
	// non-zero), or pid is killed. Called from within pid's own task
	// goroutine, never from the scheduler's loop. Enforces IRQL discipline
	// itself (§4.4): a caller above IrqlPassiveLevel gets
	// irql_not_less_or_equal instead of being parked, so every subsystem
	// that waits through this interface — not just process_wait — is
	// covered by the same rule.
	Block(pid ktypes.PID, reason string, deadline time.Time) (WakeResult, error)

	// Wake resumes a task parked in Block with the given value. Safe to
	// call from any task's goroutine (single logical writer, enforced by a
	// mutex since the goroutines are physically concurrent).
	Wake(pid ktypes.PID, value interface{})

	// DeliverSignal enqueues a pending signal for pid, to be observed at
	// pid's next checkpoint or syscall boundary (§4.4).
	DeliverSignal(pid ktypes.PID, signal int) error

	// Kill forces pid to Dead, waking its waiters with exitCode.
	Kill(pid ktypes.PID, exitCode int) error

	// RingOf reports a live process's current ring, for capability-surface
	// and access checks performed by other subsystems.
	RingOf(pid ktypes.PID) (ktypes.Ring, bool)
}
