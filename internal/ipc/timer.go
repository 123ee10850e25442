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
	"time"

	"github.com/mkernel/kernel-core/internal/kdomain"
)

// TimerBody backs ke_create_timer: a one-shot or periodic timer that
// fires a DPC (here, a plain wake of whoever is parked waiting on it)
// when its due time arrives (§4.4). Each firing behaves like an
// auto-reset event's signal: it wakes exactly one waiter and does not
// stay signaled for anyone who checks afterward.
type TimerBody struct {
	mu       sync.Mutex
	header   DispatcherHeader
	signaled bool
	periodic bool
	period   time.Duration
	stopCh   chan struct{}
	stopped  bool
}

// NewTimer constructs an unarmed timer; call Start to schedule its first
// (and, if periodic, every subsequent) firing.
func NewTimer(periodic bool) *TimerBody {
	return &TimerBody{periodic: periodic, stopCh: make(chan struct{})}
}

func (t *TimerBody) Header() *DispatcherHeader { return &t.header }

// TryAcquire consumes the timer's signal if it has fired since the last
// successful wait.
func (t *TimerBody) TryAcquire(PID) (bool, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.signaled {
		return false, false
	}
	t.signaled = false
	return true, false
}

// Start arms the timer: due after delay, then (for a periodic timer)
// again every period until Stop is called.
func (t *TimerBody) Start(sched kdomain.Scheduler, delay, period time.Duration) {
	t.mu.Lock()
	t.period = period
	t.mu.Unlock()

	time.AfterFunc(delay, func() { t.fire(sched) })
}

func (t *TimerBody) fire(sched kdomain.Scheduler) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.signaled = true
	periodic, period := t.periodic, t.period
	t.mu.Unlock()

	if pid, ok := t.header.popWaiter(); ok {
		sched.Wake(pid, false)
	}

	if periodic && period > 0 {
		time.AfterFunc(period, func() { t.fire(sched) })
	}
}

// Stop disarms the timer and clears any signal not yet consumed; any
// firing already scheduled with time.AfterFunc becomes a no-op, and
// periodic firing does not reschedule. Safe to call more than once.
func (t *TimerBody) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.signaled = false
}
