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
	"github.com/mkernel/kernel-core/internal/instrument"
	"github.com/mkernel/kernel-core/internal/kstatus"
)

// Spawn implements §4.3's process creation: source is instrumented for
// Ring >= Ring2_5, a PID and synapse token are allocated through the
// Object Manager, inheritable handles are installed from parentPID (if
// non-zero), and the new task is marked ready. A malformed source at
// Ring >= Ring2_5 refuses to spawn, per §4.1's failure semantics.
func (s *Scheduler) Spawn(source, name string, ring Ring, uid uint32, parentPID PID, task Task) (PID, error) {
	if ring >= ktypes2_5 {
		if _, _, err := instrument.Instrument(source, name); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	s.next++
	pid := s.next
	s.mu.Unlock()

	tok := s.ob.RegisterProcess(pid)

	p := &Process{
		PID:          pid,
		Ring:         ring,
		ParentPID:    parentPID,
		Status:       StatusReady,
		UID:          uid,
		SynapseToken: tok,
		signals:      newSignalState(),
		resume:       make(chan resumeMsg),
		yield:        make(chan yieldMsg),
	}

	s.mu.Lock()
	s.table[pid] = p
	s.pushReady(pid)
	s.mu.Unlock()

	if parentPID != 0 {
		// Non-fatal if it errors: the child simply starts with no
		// inherited handles beyond what InheritHandles managed to copy.
		_ = s.ob.InheritHandles(parentPID, pid)
	}

	go s.runTask(p, task)

	return pid, nil
}

// CreateThread implements §4.3: the new PID shares the parent's handle
// table and synapse token (via internal/ob.ShareProcess) rather than
// getting its own, and its exit does not terminate siblings.
func (s *Scheduler) CreateThread(parentPID PID, task Task) (PID, error) {
	parent, ok := s.Lookup(parentPID)
	if !ok {
		return 0, kstatus.New(kstatus.NotFound, "parent pid %d", parentPID)
	}

	s.mu.Lock()
	s.next++
	pid := s.next
	s.mu.Unlock()

	s.ob.ShareProcess(pid, parentPID)

	p := &Process{
		PID:          pid,
		Ring:         parent.Ring,
		ParentPID:    parentPID,
		Status:       StatusReady,
		UID:          parent.UID,
		SynapseToken: parent.SynapseToken,
		IsThread:     true,
		signals:      newSignalState(),
		resume:       make(chan resumeMsg),
		yield:        make(chan yieldMsg),
	}

	s.mu.Lock()
	s.table[pid] = p
	parent.ThreadPIDs = append(parent.ThreadPIDs, pid)
	s.pushReady(pid)
	s.mu.Unlock()

	go s.runTask(p, task)

	return pid, nil
}

// runTask is the body of every process's dedicated goroutine: wait for the
// scheduler's first resume, run the task, and report its exit.
func (s *Scheduler) runTask(p *Process, task Task) {
	<-p.resume
	h := newTaskHandle(p.PID, s)
	exitCode := task(h)
	p.yield <- yieldMsg{status: StatusDead, exitCode: exitCode}
}

// Wait blocks the calling task until targetPID exits, returning its exit
// code. Returns not_found if targetPID has already been reaped (§8's
// round-trip property: "subsequent wait returns not_found").
func (s *Scheduler) Wait(h *TaskHandle, targetPID PID) (int, error) {
	s.mu.Lock()
	target, ok := s.table[targetPID]
	if !ok {
		s.mu.Unlock()
		return 0, kstatus.New(kstatus.NotFound, "pid %d", targetPID)
	}
	if target.Status == StatusDead {
		delete(s.table, targetPID)
		code := target.ExitCode
		s.mu.Unlock()
		return code, nil
	}
	target.waitQueue = append(target.waitQueue, h.pid)
	s.mu.Unlock()

	wr, err := h.Block("process_wait", 0)
	if err != nil {
		return 0, err
	}
	if code, ok := wr.Value.(int); ok {
		return code, nil
	}
	return 0, kstatus.New(kstatus.NotFound, "pid %d", targetPID)
}

// GetPid, GetRing, GetSynapseToken are the read-only process_* syscalls.
func (s *Scheduler) GetPid(h *TaskHandle) PID { return h.pid }

func (s *Scheduler) GetRing(pid PID) (Ring, bool) { return s.RingOf(pid) }

func (s *Scheduler) GetSynapseToken(pid PID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.table[pid]
	if !ok {
		return "", false
	}
	return p.SynapseToken, true
}

// GetUID reports the UID a process was spawned with, for building the
// ob.CallerInfo a handle-table or object-creation operation checks
// ownership against.
func (s *Scheduler) GetUID(pid PID) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.table[pid]
	if !ok {
		return 0, false
	}
	return p.UID, true
}

// Elevate regenerates pid's synapse token via the Object Manager,
// deliberately invalidating every outstanding handle (§4.2).
func (s *Scheduler) Elevate(pid PID) (string, error) {
	s.mu.Lock()
	p, ok := s.table[pid]
	s.mu.Unlock()
	if !ok {
		return "", kstatus.New(kstatus.NotFound, "pid %d", pid)
	}
	tok := s.ob.Elevate(pid)
	s.mu.Lock()
	p.SynapseToken = tok
	s.mu.Unlock()
	return tok, nil
}

const ktypes2_5 Ring = 2.5
