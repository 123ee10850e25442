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
	"runtime"
	"time"

	"github.com/mkernel/kernel-core/internal/instrument"
	"github.com/mkernel/kernel-core/internal/kdomain"
)

// TaskHandle is the only way a running Task cooperates with the scheduler:
// it is what every injected __pc() call site is compiled down to once a
// process's instrumented source is handed to a task runner (§4.1's
// supplemented runtime behavior), and it is also how a task issues
// blocking syscalls.
type TaskHandle struct {
	pid   PID
	sched *Scheduler

	counter   int
	sliceFrom time.Time
}

func newTaskHandle(pid PID, s *Scheduler) *TaskHandle {
	return &TaskHandle{pid: pid, sched: s, sliceFrom: time.Now()}
}

// Checkpoint implements the __pc closure's state machine exactly as
// specified: (a) count, returning immediately below CHECK_INTERVAL; (b) at
// that cadence, deliver pending signals; (c) cooperatively yield if the
// elapsed time since the last resumption exceeds QUANTUM; (d) record a new
// baseline after resumption.
func (h *TaskHandle) Checkpoint() {
	h.counter++
	if h.counter < instrument.CheckInterval {
		return
	}
	h.counter = 0

	if h.deliverPendingSignals() {
		// SIGKILL was pending and has already ended this goroutine via
		// runtime.Goexit inside deliverPendingSignals; unreachable.
		return
	}

	if time.Since(h.sliceFrom) >= instrument.Quantum {
		h.yieldToReady()
	}
}

// yieldToReady hands control back to the scheduler, reporting this task as
// still runnable (the §4.3 "returns control with status still running"
// preemption signal), then blocks until the scheduler resumes it.
func (h *TaskHandle) yieldToReady() {
	p := h.sched.mustLookup(h.pid)
	p.yield <- yieldMsg{status: StatusReady}
	<-p.resume
	h.sliceFrom = time.Now()
}

// deliverPendingSignals runs every pending signal's handler on this task's
// own goroutine (signals are delivered "in process", per §4.4), honoring
// the process's mask except for SIGKILL, which is uncatchable and ends the
// process immediately. Returns true if the task goroutine was terminated.
func (h *TaskHandle) deliverPendingSignals() bool {
	p := h.sched.mustLookup(h.pid)

	p.mu.Lock()
	if p.signals.Pending[SIGKILL] {
		p.mu.Unlock()
		p.yield <- yieldMsg{status: StatusDead, exitCode: KilledExitCode}
		runtime.Goexit()
		return true
	}

	var fire []int
	for sig, pending := range p.signals.Pending {
		if !pending {
			continue
		}
		if p.signals.Mask[sig] {
			continue
		}
		fire = append(fire, sig)
	}
	for _, sig := range fire {
		delete(p.signals.Pending, sig)
	}
	handlers := make(map[int]func(PID, int), len(fire))
	for _, sig := range fire {
		if hf, ok := p.signals.Handlers[sig]; ok {
			handlers[sig] = hf
		}
	}
	p.mu.Unlock()

	for _, sig := range fire {
		if hf, ok := handlers[sig]; ok {
			hf(h.pid, sig)
		}
	}
	return false
}

// Block issues a blocking syscall: it reports this task as sleeping,
// yields to the scheduler, and waits for Wake or the deadline. IRQL above
// passive level refuses to block at all (§4.4's IRQL discipline), enforced
// inside Scheduler.Block so every waiter that goes through it — not just
// this one — is covered.
func (h *TaskHandle) Block(reason string, timeout time.Duration) (kdomain.WakeResult, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	wr, err := h.sched.Block(h.pid, reason, deadline)
	if err != nil {
		return kdomain.WakeResult{}, err
	}
	h.sliceFrom = time.Now()
	return wr, nil
}

// PID returns the PID of the task this handle belongs to.
func (h *TaskHandle) PID() PID { return h.pid }

func (s *Scheduler) mustLookup(pid PID) *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table[pid]
}
