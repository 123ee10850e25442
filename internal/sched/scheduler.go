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
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mkernel/kernel-core/internal/kdomain"
	"github.com/mkernel/kernel-core/internal/ktypes"
	"github.com/mkernel/kernel-core/internal/ob"
)

// WatchdogInterval and MaxWatchdogStrikes implement §4.3's watchdog: a
// resumption that runs longer than WatchdogInterval without yielding
// accrues a strike; at MaxWatchdogStrikes the task is forcibly terminated.
// Declared as vars, not consts, so tests can shrink the interval rather
// than actually running for 2s*3 wall-clock seconds per watchdog case.
var (
	WatchdogInterval   = 2 * time.Second
	MaxWatchdogStrikes = 3
)

// KilledExitCode is the exit status recorded when the watchdog or a
// SIGKILL forcibly terminates a process rather than it returning normally.
const KilledExitCode = -9

// Scheduler is the Scheduler & Process Manager: a process table plus a
// ready queue, driven by a single loop goroutine (Run) that is the only
// place process state is mutated, mirroring §5's "mutated only ... while
// no task is concurrently resumed" by construction rather than by locking
// alone — though a mutex still guards the table, since Go's goroutines are
// physically concurrent even under this cooperative protocol.
type Scheduler struct {
	mu    sync.Mutex
	table map[PID]*Process
	ready []PID
	next  PID

	ob *ob.Manager

	stop chan struct{}

	exitHooks []func(PID)
}

// RegisterExitHook installs fn to run whenever a process is fully reaped
// (normal exit, watchdog termination, or Kill), after its handles have been
// released — internal/kernel wires internal/ipc.Manager.HandleProcessExit
// through this so a dying process's owned mutexes are abandoned (§4.3).
func (s *Scheduler) RegisterExitHook(fn func(PID)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exitHooks = append(s.exitHooks, fn)
}

// New constructs a Scheduler backed by the given Object Manager, which it
// uses to allocate synapse tokens, handle tables, and inherited handles on
// spawn (§4.2, §4.3).
func New(obMgr *ob.Manager) *Scheduler {
	return &Scheduler{
		table: make(map[PID]*Process),
		ob:    obMgr,
		stop:  make(chan struct{}),
	}
}

var _ kdomain.Scheduler = (*Scheduler)(nil)

// Stop halts the Run loop after the currently resumed task yields.
func (s *Scheduler) Stop() {
	close(s.stop)
}

// Panic implements a failed kernel invariant's terminal response (§7): log
// the reason at Fatal and halt. Unlike a watchdog strike, this is not a
// single task's fault — something the scheduler itself relied on no longer
// holds — so the whole Run loop stops rather than just the offending task.
func (s *Scheduler) Panic(reason string) {
	logrus.Fatalf("sched: kernel invariant violated, halting: %s", reason)
}

// Lookup returns a snapshot-safe pointer to pid's process table entry.
func (s *Scheduler) Lookup(pid PID) (*Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.table[pid]
	return p, ok
}

// RingOf implements kdomain.Scheduler.
func (s *Scheduler) RingOf(pid PID) (ktypes.Ring, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.table[pid]
	if !ok {
		return 0, false
	}
	return p.Ring, true
}

func (s *Scheduler) pushReady(pid PID) {
	s.ready = append(s.ready, pid)
}

func (s *Scheduler) popReady() (PID, bool) {
	if len(s.ready) == 0 {
		return 0, false
	}
	pid := s.ready[0]
	s.ready = s.ready[1:]
	return pid, true
}

// Run drives the scheduler loop: pop the next ready task, give it a turn,
// apply the watchdog/preempt bookkeeping of §4.3 to whatever it reports
// back, and repeat. Intended to run on its own goroutine; returns when
// Stop is called and the ready queue drains of a turn to take.
func (s *Scheduler) Run() {
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		s.mu.Lock()
		pid, ok := s.popReady()
		if !ok {
			s.mu.Unlock()
			time.Sleep(time.Millisecond)
			continue
		}
		p := s.table[pid]
		if p == nil || p.Status == StatusDead {
			s.mu.Unlock()
			continue
		}
		p.Status = StatusRunning
		s.mu.Unlock()

		s.runOneTurn(p)
	}
}

// runOneTurn hands pid's process one resumption and applies the result,
// including the watchdog's strike accounting.
func (s *Scheduler) runOneTurn(p *Process) {
	p.mu.Lock()
	wake := p.pendingWake
	p.pendingWake = nil
	p.mu.Unlock()

	start := time.Now()
	p.resume <- resumeMsg{wake: wake}

	strikes := 0
	var msg yieldMsg
	for {
		select {
		case msg = <-p.yield:
			goto resolved
		case <-time.After(WatchdogInterval):
			strikes++
			total := p.Stats.WatchdogStrikes + strikes
			logrus.Warnf("sched: pid %d exceeded watchdog interval (%d/%d strikes)",
				p.PID, total, MaxWatchdogStrikes)
			if total >= MaxWatchdogStrikes {
				logrus.Errorf("sched: pid %d forcibly terminated by watchdog after %d strikes; "+
					"its goroutine could not be preempted and is abandoned running", p.PID, total)
				s.terminate(p, KilledExitCode)
				return
			}
		}
	}
resolved:

	elapsed := time.Since(start)
	p.Stats.CPUTime += elapsed
	p.Stats.LastSlice = elapsed
	if elapsed > p.Stats.MaxSlice {
		p.Stats.MaxSlice = elapsed
	}
	p.Stats.WatchdogStrikes += strikes

	switch msg.status {
	case StatusReady:
		p.Stats.PreemptCount++
		s.mu.Lock()
		p.Status = StatusReady
		s.pushReady(p.PID)
		s.mu.Unlock()

	case StatusSleeping:
		s.mu.Lock()
		p.Status = StatusSleeping
		p.blockReason = msg.reason
		p.blockDeadline = msg.deadline
		s.mu.Unlock()
		if !msg.deadline.IsZero() {
			d := time.Until(msg.deadline)
			if d < 0 {
				d = 0
			}
			pid := p.PID
			time.AfterFunc(d, func() { s.Wake(pid, kdomain.WakeResult{Reason: kdomain.WakeTimeout}) })
		}

	case StatusDead:
		// A clean exit is the only point at which strikes decay.
		p.Stats.WatchdogStrikes = 0
		s.handleExit(p, msg.exitCode)
	}
}

// Wake implements kdomain.Scheduler: it marks a sleeping process ready and
// stashes the wake value for delivery on its next turn. It does not send on
// the process's resume channel directly — only Run does that — so calling
// Wake never lets two tasks appear to run at once.
func (s *Scheduler) Wake(pid PID, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.table[pid]
	if !ok || p.Status != StatusSleeping {
		return
	}
	p.mu.Lock()
	p.pendingWake = value
	p.mu.Unlock()
	p.Status = StatusReady
	s.pushReady(pid)
}

// Block is called from within pid's own task goroutine to park it until
// Wake is called or deadline (if non-zero) elapses. Implements
// kdomain.Scheduler's IRQL discipline: a caller above IrqlPassiveLevel is
// refused outright rather than parked (§4.4).
func (s *Scheduler) Block(pid PID, reason string, deadline time.Time) (kdomain.WakeResult, error) {
	s.mu.Lock()
	p, ok := s.table[pid]
	s.mu.Unlock()
	if !ok {
		return kdomain.WakeResult{Reason: kdomain.WakeKilled}, nil
	}
	if p.IRQL > IrqlPassiveLevel {
		return kdomain.WakeResult{}, errIrqlNotLessOrEqual
	}

	p.yield <- yieldMsg{status: StatusSleeping, reason: reason, deadline: deadline}
	rm := <-p.resume

	if wr, ok := rm.wake.(kdomain.WakeResult); ok {
		return wr, nil
	}
	return kdomain.WakeResult{Reason: kdomain.WakeSatisfied, Value: rm.wake}, nil
}

// DeliverSignal implements kdomain.Scheduler.
func (s *Scheduler) DeliverSignal(pid PID, signal int) error {
	s.mu.Lock()
	p, ok := s.table[pid]
	s.mu.Unlock()
	if !ok {
		return kdomain.ErrNoSuchProcess(pid)
	}
	p.mu.Lock()
	p.signals.Pending[signal] = true
	p.mu.Unlock()
	return nil
}

// Kill implements kdomain.Scheduler: it forces pid straight to Dead,
// regardless of where it was parked, per §4.3's state machine
// ("running|sleeping -> dead on exit/kill").
func (s *Scheduler) Kill(pid PID, exitCode int) error {
	s.mu.Lock()
	p, ok := s.table[pid]
	s.mu.Unlock()
	if !ok {
		return kdomain.ErrNoSuchProcess(pid)
	}

	switch p.Status {
	case StatusSleeping:
		s.terminate(p, exitCode)
	case StatusReady, StatusRunning:
		p.mu.Lock()
		p.signals.Pending[SIGKILL] = true
		p.mu.Unlock()
	}
	return nil
}

// terminate finalizes a process's exit outside the normal yield protocol
// (watchdog termination, or killing a sleeping process), releasing its
// resources the same way handleExit does for a process that returned
// normally.
func (s *Scheduler) terminate(p *Process, exitCode int) {
	s.releaseExited(p, exitCode)
}

func (s *Scheduler) handleExit(p *Process, exitCode int) {
	s.releaseExited(p, exitCode)
}

// releaseExited implements §4.3's exit cleanup: waiters already parked in
// Wait wake with the exit code; held handles are released; and (for a
// non-thread) every thread PID is also terminated. If nobody was waiting
// yet, the table entry is kept as a zombie (Status Dead, ExitCode set) so
// a Wait call that arrives later still observes the exit status exactly
// once (§8) — Wait itself deletes the entry once it has delivered that
// status, so a second wait on the same pid then sees not_found.
func (s *Scheduler) releaseExited(p *Process, exitCode int) {
	p.ExitCode = exitCode

	if s.ob != nil {
		for _, entry := range s.ob.UnregisterProcess(p.PID) {
			s.ob.Arena().CloseHandleRefs(entry.Object)
		}
	}

	s.mu.Lock()
	hooks := append([]func(PID){}, s.exitHooks...)
	s.mu.Unlock()
	for _, hook := range hooks {
		hook(p.PID)
	}

	s.mu.Lock()
	p.Status = StatusDead
	waiters := p.waitQueue
	p.waitQueue = nil
	if len(waiters) > 0 {
		delete(s.table, p.PID)
	}
	s.mu.Unlock()

	for _, w := range waiters {
		s.Wake(w, exitCode)
	}

	if !p.IsThread {
		for _, tpid := range p.ThreadPIDs {
			_ = s.Kill(tpid, exitCode)
		}
	}
}
