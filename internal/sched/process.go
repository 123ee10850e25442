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

// Package sched implements the Scheduler & Process Manager: a
// single-threaded cooperative round-robin over a process table, with
// time-slice enforcement, a watchdog, and POSIX-style signal delivery.
//
// Go goroutines are genuinely concurrent, so the cooperative substrate is
// reproduced by never letting more than one process's goroutine run at a
// time: the scheduler hands a process its turn over a resume channel and
// does not send on another process's resume channel until that process
// yields back over its own yield channel. This is the task abstraction the
// design notes call for: "stackful green threads ... the key contract is
// single-threaded cooperative scheduling with observable yield points."
package sched

import (
	"sync"
	"time"

	"github.com/mkernel/kernel-core/internal/ktypes"
)

type PID = ktypes.PID
type Ring = ktypes.Ring

// Status is a process's position in the ready/running/sleeping/dead state
// machine of §4.3.
type Status int

const (
	StatusReady Status = iota
	StatusRunning
	StatusSleeping
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusSleeping:
		return "sleeping"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Stats are the scheduler bookkeeping fields the data model attaches to
// every process.
type Stats struct {
	CPUTime         time.Duration
	PreemptCount    int
	LastSlice       time.Duration
	MaxSlice        time.Duration
	WatchdogStrikes int
}

// SignalState is a process's pending set, mask, and handler table. Signals
// are data-modeled here (rather than in internal/ipc) because §3 lists the
// signal queue, handlers, and mask as Process fields, and because handing
// delivery to the scheduler avoids an ipc<->sched import cycle: ipc's
// dispatcher objects ask the scheduler to deliver a signal the same way
// they ask it to Wake a waiter.
type SignalState struct {
	Pending  map[int]bool
	Mask     map[int]bool
	Handlers map[int]func(pid PID, sig int)
}

func newSignalState() *SignalState {
	return &SignalState{
		Pending:  make(map[int]bool),
		Mask:     make(map[int]bool),
		Handlers: make(map[int]func(pid PID, sig int)),
	}
}

// Uncatchable signals, per §4.4's glossary of POSIX-style signals.
const (
	SIGKILL = 9
	SIGSTOP = 19
)

// Process is one row of the process table (§3). Body is exported to the
// extent §3 documents the fields; Body.Task is the function that *is* the
// process, run on its own goroutine.
type Process struct {
	PID          PID
	Ring         Ring
	ParentPID    PID
	Status       Status
	UID          uint32
	SynapseToken string
	ThreadPIDs   []PID
	IsThread     bool
	ProcessGroup PID
	IRQL         Level
	Stats        Stats
	ExitCode     int

	signals *SignalState

	waitQueue []PID // PIDs blocked in Wait(pid)

	resume chan resumeMsg
	yield  chan yieldMsg

	mu            sync.Mutex // guards fields mutated from outside the task's own goroutine
	blockDeadline time.Time
	blockReason   string
	pendingWake   interface{}
}

// Task is the function a spawned or threaded process runs. h is the
// process's only way to cooperate with the scheduler: yield at a
// checkpoint, block on a wait, or return to exit.
type Task func(h *TaskHandle) int

type resumeMsg struct {
	wake interface{}
}

type yieldMsg struct {
	status   Status
	reason   string
	deadline time.Time
	exitCode int
}

// Level is an IRQL ordinal (§4.4's IRQL discipline): code at or above
// IrqlDispatchLevel must not invoke a blocking operation.
type Level int

const (
	IrqlPassiveLevel Level = iota
	IrqlApcLevel
	IrqlDispatchLevel
)
