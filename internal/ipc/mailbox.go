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
	"github.com/mkernel/kernel-core/internal/kstatus"
)

// SIGDISPATCH notifies a driver process that a named message — an IRP
// handed to it by DKMS, a driver_init packet, or any other
// out-of-band kernel-to-process delivery — is waiting in its Mailbox
// (§4.5's DKMS-to-driver handoff).
const SIGDISPATCH = 30

// NamedMessage is one entry in a process's Mailbox: a name the receiver
// dispatches on (e.g. "irp_dispatch", "driver_init") plus whatever payload
// the sender attached.
type NamedMessage struct {
	Name    string
	Payload interface{}
}

// Mailbox is a per-process inbox for named, out-of-band kernel messages —
// the mechanism SignalSend and the IRP Fabric use to hand a driver process
// an IRP or a driver_init packet without going through a message queue
// object the receiver would have to have already opened a handle to.
type Mailbox struct {
	mu   sync.Mutex
	msgs []NamedMessage
}

// MailboxRegistry is the process-indexed table of mailboxes, owned by
// Manager so DKMS (internal/irp) can reach it through the same Manager it
// already uses for every other Kernel IPC primitive.
type MailboxRegistry struct {
	mu    sync.Mutex
	boxes map[PID]*Mailbox
}

func newMailboxRegistry() *MailboxRegistry {
	return &MailboxRegistry{boxes: make(map[PID]*Mailbox)}
}

func (r *MailboxRegistry) boxFor(pid PID) *Mailbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.boxes[pid]
	if !ok {
		b = &Mailbox{}
		r.boxes[pid] = b
	}
	return b
}

// SignalSend delivers a named message to pid's mailbox: SIGDISPATCH is
// raised so a running task observes it at its next checkpoint or syscall
// boundary, and pid is also woken directly in case it is parked in
// WaitMessage — Wake is a no-op against a process that is not currently
// sleeping (§4.5).
func (r *MailboxRegistry) SignalSend(sched kdomain.Scheduler, pid PID, name string, payload interface{}) error {
	b := r.boxFor(pid)
	b.mu.Lock()
	b.msgs = append(b.msgs, NamedMessage{Name: name, Payload: payload})
	b.mu.Unlock()
	err := sched.DeliverSignal(pid, SIGDISPATCH)
	sched.Wake(pid, false)
	return err
}

// PullMessage removes and returns the oldest message in pid's mailbox, or
// false if it is empty. Used by a driver process's dispatch loop after
// observing SIGDISPATCH.
func (r *MailboxRegistry) PullMessage(pid PID) (NamedMessage, bool) {
	b := r.boxFor(pid)
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.msgs) == 0 {
		return NamedMessage{}, false
	}
	m := b.msgs[0]
	b.msgs = b.msgs[1:]
	return m, true
}

// WaitMessage blocks pid until its mailbox is non-empty, draining the
// oldest message, for a driver process whose whole job is to service its
// mailbox rather than poll it.
func (r *MailboxRegistry) WaitMessage(sched kdomain.Scheduler, pid PID, timeout time.Duration) (NamedMessage, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if m, ok := r.PullMessage(pid); ok {
			return m, nil
		}
		wr, err := sched.Block(pid, "mailbox_wait", deadline)
		if err != nil {
			return NamedMessage{}, err
		}
		switch wr.Reason {
		case kdomain.WakeTimeout:
			return NamedMessage{}, kstatus.New(kstatus.Timeout, "mailbox_wait")
		case kdomain.WakeKilled:
			return NamedMessage{}, kdomain.ErrNoSuchProcess(pid)
		}
	}
}

// Mailboxes exposes the registry Manager owns, for internal/irp to reach
// SignalSend/WaitMessage through the same Manager it's already wired
// against.
func (m *Manager) Mailboxes() *MailboxRegistry {
	if m.mailboxes == nil {
		m.mailboxes = newMailboxRegistry()
	}
	return m.mailboxes
}
