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
	"sort"

	"github.com/mkernel/kernel-core/internal/kstatus"
)

// SetSignalHandler implements signal_handle: installs (or, with handler
// nil, clears) the handler invoked when sig is delivered at a checkpoint
// or syscall boundary. SIGKILL cannot be handled; it always terminates.
func (s *Scheduler) SetSignalHandler(pid PID, sig int, handler func(PID, int)) error {
	p := s.mustLookup(pid)
	if p == nil {
		return kstatus.New(kstatus.NotFound, "pid %d", pid)
	}
	if sig == SIGKILL {
		return kstatus.New(kstatus.InvalidArgument, "signal %d is uncatchable", sig)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if handler == nil {
		delete(p.signals.Handlers, sig)
		return nil
	}
	p.signals.Handlers[sig] = handler
	return nil
}

// SetSignalMask implements signal_mask: while masked, sig accumulates in
// the pending set but its handler is not invoked until unmasked. SIGKILL
// bypasses the mask entirely (§4.4).
func (s *Scheduler) SetSignalMask(pid PID, sig int, masked bool) error {
	p := s.mustLookup(pid)
	if p == nil {
		return kstatus.New(kstatus.NotFound, "pid %d", pid)
	}
	if sig == SIGKILL {
		return kstatus.New(kstatus.InvalidArgument, "signal %d cannot be masked", sig)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if masked {
		p.signals.Mask[sig] = true
	} else {
		delete(p.signals.Mask, sig)
	}
	return nil
}

// PullSignal implements signal_pull: consumes and returns the lowest
// unmasked pending signal number without invoking its handler, for callers
// that poll explicitly rather than registering a handler. Returns
// (0, false) if nothing unmasked is pending.
func (s *Scheduler) PullSignal(pid PID) (int, bool) {
	p := s.mustLookup(pid)
	if p == nil {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var pending []int
	for sig, set := range p.signals.Pending {
		if set && !p.signals.Mask[sig] {
			pending = append(pending, sig)
		}
	}
	if len(pending) == 0 {
		return 0, false
	}
	sort.Ints(pending)
	sig := pending[0]
	delete(p.signals.Pending, sig)
	return sig, true
}
