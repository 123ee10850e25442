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

// Package ipc implements Kernel IPC: the dispatcher-object family (event,
// mutex, semaphore, timer, pipe, section, message queue) and the uniform
// wait entry point that drives all of them. Every object type here is an
// internal/ob object whose Header.Body is one of this package's *Body
// types; ipc never imports internal/sched directly, instead blocking and
// waking through the internal/kdomain.Scheduler interface, so the
// dependency edge always runs scheduler -> ipc and never back.
package ipc

import (
	"sync"
	"time"

	"github.com/mkernel/kernel-core/internal/kdomain"
	"github.com/mkernel/kernel-core/internal/kstatus"
	"github.com/mkernel/kernel-core/internal/ktypes"
)

type PID = ktypes.PID

// DispatcherHeader is the wait-state every synchronization object embeds
// (§4.4): whether it is presently signaled (type-specific meaning) and the
// FIFO-ordered queue of tasks parked waiting on it. A single mutex guards
// it; although the scheduler only ever lets one task run at a time, timer
// DPCs and the watchdog's forced termination path touch dispatcher state
// from outside that task's own turn, so the header still needs its own
// lock rather than relying on the cooperative protocol alone.
type DispatcherHeader struct {
	mu      sync.Mutex
	waiters []PID
}

func (d *DispatcherHeader) enqueue(pid PID) {
	d.mu.Lock()
	d.waiters = append(d.waiters, pid)
	d.mu.Unlock()
}

func (d *DispatcherHeader) dequeue(pid PID) {
	d.mu.Lock()
	for i, w := range d.waiters {
		if w == pid {
			d.waiters = append(d.waiters[:i], d.waiters[i+1:]...)
			break
		}
	}
	d.mu.Unlock()
}

// popWaiter removes and returns the earliest-queued waiter (§5's FIFO wake
// order), or false if nobody is parked.
func (d *DispatcherHeader) popWaiter() (PID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.waiters) == 0 {
		return 0, false
	}
	pid := d.waiters[0]
	d.waiters = d.waiters[1:]
	return pid, true
}

func (d *DispatcherHeader) waiterCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiters)
}

// Waitable is implemented by every dispatcher-backed object body.
// TryAcquire attempts to atomically satisfy pid's wait — consume a
// semaphore permit, acquire a free mutex, consume an event's or timer's
// signal — and reports whether it succeeded and, for the mutex's
// owner-death case, whether the acquisition is "abandoned" (§8 scenario
//5). Implementations must take their own lock around the check; Header
// only manages the waiter queue, never the object-specific state.
type Waitable interface {
	TryAcquire(pid PID) (ok bool, abandoned bool)
	Header() *DispatcherHeader
}

// WaitSingle implements ke_wait_single (§6): try to acquire immediately,
// and if that fails, park pid on obj's waiter queue and block through
// sched until woken, timed out, or killed. A wake is only a hint that the
// object's state changed — since the scheduler never runs two tasks at
// once, the retry immediately following a wake cannot race with anyone
// else's acquire, so looping here (rather than trusting the wake payload)
// is both simpler and race-free.
func WaitSingle(sched kdomain.Scheduler, pid PID, obj Waitable, timeout time.Duration) (abandoned bool, err error) {
	h := obj.Header()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if ok, ab := obj.TryAcquire(pid); ok {
			return ab, nil
		}

		h.enqueue(pid)
		wr, err := sched.Block(pid, "wait_single", deadline)
		if err != nil {
			h.dequeue(pid)
			return false, err
		}

		switch wr.Reason {
		case kdomain.WakeTimeout:
			h.dequeue(pid)
			return false, kstatus.New(kstatus.Timeout, "wait_single")
		case kdomain.WakeKilled:
			h.dequeue(pid)
			return false, kdomain.ErrNoSuchProcess(pid)
		}
		// WakeSatisfied: loop back and retry the atomic acquire.
	}
}

// WaitMultiple implements wait_multiple (§6): waitAll=false (wait_any)
// returns the lowest index whose object is immediately satisfiable, or
// blocks until the first of them is; waitAll=true only returns once every
// object can be acquired simultaneously — per §5/§8, "completes atomically
// or not at all" — so a partial acquisition is always rolled back before
// parking or returning.
func WaitMultiple(sched kdomain.Scheduler, pid PID, objs []Waitable, waitAll bool, timeout time.Duration) (index int, err error) {
	if !waitAll {
		return waitAny(sched, pid, objs, timeout)
	}
	return waitAllObjects(sched, pid, objs, timeout)
}

func waitAny(sched kdomain.Scheduler, pid PID, objs []Waitable, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		for i, o := range objs {
			if ok, _ := o.TryAcquire(pid); ok {
				return i, nil
			}
		}

		for _, o := range objs {
			o.Header().enqueue(pid)
		}
		wr, err := sched.Block(pid, "wait_multiple_any", deadline)
		for _, o := range objs {
			o.Header().dequeue(pid)
		}
		if err != nil {
			return -1, err
		}
		switch wr.Reason {
		case kdomain.WakeTimeout:
			return -1, kstatus.New(kstatus.Timeout, "wait_multiple")
		case kdomain.WakeKilled:
			return -1, kdomain.ErrNoSuchProcess(pid)
		}
		// WakeSatisfied: loop back and retry the full index scan.
	}
}

// waitAllObjects polls every object for simultaneous satisfiability rather
// than queuing a partial acquisition on some subset: it parks on all of
// them and, each time any one wakes it, attempts to acquire the entire set
// atomically before deciding whether to keep waiting.
func waitAllObjects(sched kdomain.Scheduler, pid PID, objs []Waitable, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if acquireAll(pid, objs) {
			return 0, nil
		}

		for _, o := range objs {
			o.Header().enqueue(pid)
		}
		wr, err := sched.Block(pid, "wait_multiple_all", deadline)
		for _, o := range objs {
			o.Header().dequeue(pid)
		}
		if err != nil {
			return -1, err
		}
		switch wr.Reason {
		case kdomain.WakeTimeout:
			return -1, kstatus.New(kstatus.Timeout, "wait_multiple")
		case kdomain.WakeKilled:
			return -1, kdomain.ErrNoSuchProcess(pid)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return -1, kstatus.New(kstatus.Timeout, "wait_multiple")
		}
	}
}

// acquireAll tries every object in turn, rolling back whatever it already
// acquired the moment one fails, so a wait_all never leaves the caller
// holding a strict subset.
func acquireAll(pid PID, objs []Waitable) bool {
	acquired := make([]Waitable, 0, len(objs))
	for _, o := range objs {
		ok, _ := o.TryAcquire(pid)
		if !ok {
			for _, a := range acquired {
				releaseRollback(a, pid)
			}
			return false
		}
		acquired = append(acquired, o)
	}
	return true
}

// releaseRollback undoes a provisional TryAcquire taken during a failed
// wait_all attempt: a mutex or semaphore acquisition is reversed, and an
// event's or timer's signal (which an auto-reset event or a timer consumed
// in TryAcquire) is latched again.
func releaseRollback(o Waitable, pid PID) {
	switch v := o.(type) {
	case *MutexBody:
		v.rollback(pid)
	case *SemaphoreBody:
		v.rollback()
	case *EventBody:
		v.mu.Lock()
		v.signaled = true
		v.mu.Unlock()
	case *TimerBody:
		v.mu.Lock()
		v.signaled = true
		v.mu.Unlock()
	}
}
