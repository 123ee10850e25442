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

package ipc

import (
	"sync"

	"github.com/mkernel/kernel-core/internal/kdomain"
)

// EventBody backs ke_create_event: manual-reset events stay signaled once
// set, waking every current and future waiter until explicitly reset;
// auto-reset events wake exactly one waiter and drop back to unsignaled
// (§4.4).
type EventBody struct {
	mu          sync.Mutex
	header      DispatcherHeader
	manualReset bool
	signaled    bool
}

// NewEvent constructs an event body, initially unsignaled.
func NewEvent(manualReset bool) *EventBody {
	return &EventBody{manualReset: manualReset}
}

func (e *EventBody) Header() *DispatcherHeader { return &e.header }

// TryAcquire reports whether waiting on e is immediately satisfied: if
// signaled, an auto-reset event consumes the signal on its way out, a
// manual-reset one does not.
func (e *EventBody) TryAcquire(pid PID) (bool, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.signaled {
		return false, false
	}
	if !e.manualReset {
		e.signaled = false
	}
	return true, false
}

// Set implements ke_set_event: latches the signal and wakes waiters —
// every one of them for a manual-reset event; for auto-reset, only the
// earliest-queued waiter, which leaves the signal latched for that
// waiter's own TryAcquire to consume on its post-wake re-check, so any
// others stay parked.
func (e *EventBody) Set(sched kdomain.Scheduler) {
	e.mu.Lock()
	e.signaled = true
	manual := e.manualReset
	e.mu.Unlock()

	if manual {
		for {
			pid, ok := e.header.popWaiter()
			if !ok {
				return
			}
			sched.Wake(pid, false)
		}
	}

	// Leave signaled set: the popped waiter's own TryAcquire (run as
	// WaitSingle re-checks after waking) is what consumes it, the same
	// handoff MutexBody.Release uses (leave owner==0 for the woken waiter
	// to grab) rather than clearing the resource here and racing the
	// waiter's re-check.
	if pid, ok := e.header.popWaiter(); ok {
		sched.Wake(pid, false)
	}
}

// Reset implements ke_reset_event: clears the signal without waking
// anyone.
func (e *EventBody) Reset() {
	e.mu.Lock()
	e.signaled = false
	e.mu.Unlock()
}

// Pulse implements ke_pulse_event: wakes whoever is currently parked
// without leaving the event signaled for anyone who waits afterward. If
// nobody is waiting at the moment of the pulse, it is a documented no-op
// (§9) — the pulse is lost rather than latched.
func (e *EventBody) Pulse(sched kdomain.Scheduler) {
	if e.header.waiterCount() == 0 {
		return
	}

	if e.manualReset {
		for {
			pid, ok := e.header.popWaiter()
			if !ok {
				return
			}
			sched.Wake(pid, false)
		}
	}

	if pid, ok := e.header.popWaiter(); ok {
		sched.Wake(pid, false)
	}
}
