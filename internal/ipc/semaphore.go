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

// SemaphoreBody backs ke_create_semaphore: a {count, max} counting
// semaphore whose release saturates at max rather than overflowing
// (§4.4).
type SemaphoreBody struct {
	mu     sync.Mutex
	header DispatcherHeader
	count  int
	max    int
}

func NewSemaphore(initial, max int) *SemaphoreBody {
	return &SemaphoreBody{count: initial, max: max}
}

func (s *SemaphoreBody) Header() *DispatcherHeader { return &s.header }

// TryAcquire consumes one permit if available.
func (s *SemaphoreBody) TryAcquire(PID) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count <= 0 {
		return false, false
	}
	s.count--
	return true, false
}

// rollback returns a provisionally consumed permit during a failed
// wait_multiple(wait_all) attempt.
func (s *SemaphoreBody) rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count < s.max {
		s.count++
	}
}

// Release implements ke_release_semaphore: adds n permits back, clamped
// to max, and wakes up to n FIFO waiters.
func (s *SemaphoreBody) Release(sched kdomain.Scheduler, n int) error {
	if n <= 0 {
		return kstatus.New(kstatus.InvalidArgument, "release count must be positive")
	}

	s.mu.Lock()
	room := s.max - s.count
	if room < n {
		n = room
	}
	s.count += n
	s.mu.Unlock()

	for i := 0; i < n; i++ {
		next, ok := s.header.popWaiter()
		if !ok {
			break
		}
		sched.Wake(next, false)
	}
	return nil
}
