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
	"github.com/mkernel/kernel-core/internal/ob"
)

// Manager constructs and tracks Kernel IPC objects on top of an
// internal/ob.Manager, and is the one place that knows which mutexes a
// still-live process currently owns, so it can abandon them on that
// process's exit (§4.3's "resources held by it are released ... owned
// mutexes released with an abandoned flag"). internal/kernel wires
// Manager's HandleProcessExit as an exit hook on the concrete scheduler
// (sched.Scheduler.RegisterExitHook), the same dependency-inversion
// pattern kdomain exists for: Manager never imports internal/sched.
type Manager struct {
	ob    *ob.Manager
	sched kdomain.Scheduler

	mu      sync.Mutex
	ownedBy map[PID]map[*MutexBody]struct{}

	mailboxes *MailboxRegistry
}

// NewManager constructs an ipc.Manager bound to the given Object Manager
// and Scheduler-facing interface.
func NewManager(obMgr *ob.Manager, sched kdomain.Scheduler) *Manager {
	m := &Manager{
		ob:        obMgr,
		sched:     sched,
		mailboxes: newMailboxRegistry(),
		ownedBy: make(map[PID]map[*MutexBody]struct{}),
	}
	m.ob.Arena().RegisterFinalizer(ob.TypePipe, func(h *ob.Header) {
		if p, ok := h.Body.(*PipeBody); ok {
			p.CloseWrite(sched)
			p.CloseRead(sched)
		}
	})
	m.ob.Arena().RegisterFinalizer(ob.TypeTimer, func(h *ob.Header) {
		if t, ok := h.Body.(*TimerBody); ok {
			t.Stop()
		}
	})
	return m
}

// CreateTimer implements ke_create_timer; Start must be called separately
// once the caller knows its delay/period, mirroring create then arm.
func (m *Manager) CreateTimer(caller ob.CallerInfo, periodic bool, path string, sec ob.SecurityDescriptor) (*ob.Header, string, error) {
	h, err := m.ob.CreateObject(ob.TypeTimer, NewTimer(periodic), path, sec)
	if err != nil {
		return nil, "", err
	}
	tok, err := m.ob.CreateHandle(caller, h, ob.R_OK|ob.W_OK)
	if err != nil {
		return nil, "", err
	}
	return h, tok, nil
}

// CreateEvent implements ke_create_event.
func (m *Manager) CreateEvent(caller ob.CallerInfo, manualReset bool, path string, sec ob.SecurityDescriptor) (*ob.Header, string, error) {
	h, err := m.ob.CreateObject(ob.TypeEvent, NewEvent(manualReset), path, sec)
	if err != nil {
		return nil, "", err
	}
	tok, err := m.ob.CreateHandle(caller, h, ob.R_OK|ob.W_OK)
	if err != nil {
		return nil, "", err
	}
	return h, tok, nil
}

// CreateMutex implements ke_create_mutex.
func (m *Manager) CreateMutex(caller ob.CallerInfo, path string, sec ob.SecurityDescriptor) (*ob.Header, string, error) {
	h, err := m.ob.CreateObject(ob.TypeMutex, NewMutex(), path, sec)
	if err != nil {
		return nil, "", err
	}
	tok, err := m.ob.CreateHandle(caller, h, ob.R_OK|ob.W_OK)
	if err != nil {
		return nil, "", err
	}
	return h, tok, nil
}

// CreateSemaphore implements ke_create_semaphore.
func (m *Manager) CreateSemaphore(caller ob.CallerInfo, initial, max int, path string, sec ob.SecurityDescriptor) (*ob.Header, string, error) {
	h, err := m.ob.CreateObject(ob.TypeSemaphore, NewSemaphore(initial, max), path, sec)
	if err != nil {
		return nil, "", err
	}
	tok, err := m.ob.CreateHandle(caller, h, ob.R_OK|ob.W_OK)
	if err != nil {
		return nil, "", err
	}
	return h, tok, nil
}

// CreatePipe implements ke_create_pipe, returning one handle for each
// half.
func (m *Manager) CreatePipe(caller ob.CallerInfo, capacity int) (readTok, writeTok string, err error) {
	h, err := m.ob.CreateObject(ob.TypePipe, NewPipe(capacity), "", ob.SecurityDescriptor{Mode: 0600, OwnerUID: caller.UID, GroupGID: caller.GID})
	if err != nil {
		return "", "", err
	}
	readTok, err = m.ob.CreateHandle(caller, h, ob.R_OK)
	if err != nil {
		return "", "", err
	}
	writeTok, err = m.ob.CreateHandle(caller, h, ob.W_OK)
	if err != nil {
		return "", "", err
	}
	return readTok, writeTok, nil
}

// CreateSection implements ke_create_section.
func (m *Manager) CreateSection(caller ob.CallerInfo, size int, path string, sec ob.SecurityDescriptor) (*ob.Header, string, error) {
	h, err := m.ob.CreateObject(ob.TypeSection, NewSection(size), path, sec)
	if err != nil {
		return nil, "", err
	}
	tok, err := m.ob.CreateHandle(caller, h, ob.R_OK|ob.W_OK)
	if err != nil {
		return nil, "", err
	}
	return h, tok, nil
}

// CreateMessageQueue implements ke_create_mqueue.
func (m *Manager) CreateMessageQueue(caller ob.CallerInfo, capacity, maxMessageSize int, path string, sec ob.SecurityDescriptor) (*ob.Header, string, error) {
	h, err := m.ob.CreateObject(ob.TypeMessageQueue, NewMessageQueue(capacity, maxMessageSize), path, sec)
	if err != nil {
		return nil, "", err
	}
	tok, err := m.ob.CreateHandle(caller, h, ob.R_OK|ob.W_OK)
	if err != nil {
		return nil, "", err
	}
	return h, tok, nil
}

// TrackAcquire records that pid now holds m's mutex, so it can be
// abandoned if pid dies before releasing it. Callers invoke this right
// after a successful Acquire/TryAcquire that actually granted ownership
// to pid (recursive re-entry is fine to record repeatedly; the set is
// idempotent).
func (mgr *Manager) TrackAcquire(pid PID, mutex *MutexBody) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	set, ok := mgr.ownedBy[pid]
	if !ok {
		set = make(map[*MutexBody]struct{})
		mgr.ownedBy[pid] = set
	}
	set[mutex] = struct{}{}
}

// TrackRelease removes the bookkeeping TrackAcquire added, once pid has
// fully released the mutex (recursion back to zero).
func (mgr *Manager) TrackRelease(pid PID, mutex *MutexBody) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if set, ok := mgr.ownedBy[pid]; ok {
		delete(set, mutex)
		if len(set) == 0 {
			delete(mgr.ownedBy, pid)
		}
	}
}

// HandleProcessExit abandons every mutex pid still owned at the moment it
// died, waking its earliest FIFO waiter with the abandoned flag set for
// whoever acquires next (§4.3, §8 scenario 5). Wired as a scheduler exit
// hook by internal/kernel.
func (mgr *Manager) HandleProcessExit(pid PID) {
	mgr.mu.Lock()
	set := mgr.ownedBy[pid]
	delete(mgr.ownedBy, pid)
	mgr.mu.Unlock()

	for mutex := range set {
		mutex.AbandonIfOwnedBy(mgr.sched, pid)
	}
}
