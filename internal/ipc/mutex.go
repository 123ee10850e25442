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
	"github.com/mkernel/kernel-core/internal/kstatus"
)

// MutexBody backs ke_create_mutex: a recursive mutex with FIFO-handoff
// release and abandoned-status delivery to whichever task next acquires
// it after its owner dies while holding it (§4.3, §8 scenario 5).
type MutexBody struct {
	mu        sync.Mutex
	header    DispatcherHeader
	owner     PID // 0 means free
	recursion int
	abandoned bool // set when owner died still holding it
}

func NewMutex() *MutexBody {
	return &MutexBody{}
}

func (m *MutexBody) Header() *DispatcherHeader { return &m.header }

// TryAcquire implements the recursive-acquire rule: the current owner
// re-entering just increments recursion; anyone else succeeds only when
// the mutex is free, picking up the abandoned flag exactly once.
func (m *MutexBody) TryAcquire(pid PID) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owner == pid {
		m.recursion++
		return true, false
	}
	if m.owner != 0 {
		return false, false
	}

	m.owner = pid
	m.recursion = 1
	ab := m.abandoned
	m.abandoned = false
	return true, ab
}

// rollback undoes a provisional TryAcquire taken during a failed
// wait_multiple(wait_all) attempt, restoring exactly the state TryAcquire
// would have left untouched.
func (m *MutexBody) rollback(pid PID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != pid {
		return
	}
	m.recursion--
	if m.recursion <= 0 {
		m.owner = 0
		m.recursion = 0
	}
}

// Release implements ke_release_mutex: legal only from the current owner,
// decrements recursion, and at zero frees the mutex and wakes the earliest
// FIFO waiter, which takes ownership on its own post-wake TryAcquire
// retry. Release does not assign ownership to that waiter itself, so
// ownership does not transfer at the instant of release.
func (m *MutexBody) Release(sched kdomain.Scheduler, pid PID) error {
	m.mu.Lock()
	if m.owner != pid {
		m.mu.Unlock()
		return kstatus.New(kstatus.AccessDenied, "pid %d does not own this mutex", pid)
	}

	m.recursion--
	if m.recursion > 0 {
		m.mu.Unlock()
		return nil
	}
	m.owner = 0
	m.mu.Unlock()

	if next, ok := m.header.popWaiter(); ok {
		sched.Wake(next, false)
	}
	return nil
}

// AbandonIfOwnedBy implements the owner-death half of §4.3's exit cleanup:
// if pid currently owns m, it is released immediately with the abandoned
// flag set for the next acquirer, and the earliest FIFO waiter (if any) is
// woken to retry.
func (m *MutexBody) AbandonIfOwnedBy(sched kdomain.Scheduler, pid PID) {
	m.mu.Lock()
	if m.owner != pid {
		m.mu.Unlock()
		return
	}
	m.owner = 0
	m.recursion = 0
	m.abandoned = true
	m.mu.Unlock()

	if next, ok := m.header.popWaiter(); ok {
		sched.Wake(next, false)
	}
}
