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
	"github.com/mkernel/kernel-core/internal/kdomain"
)

// LoadDynamic is the runtime dynamic-code-loading path: any source handed
// to it by an already-running task is always run through the Preempt
// Instrumenter first, for the same reason spawn instruments file-loaded
// source — there is no escape hatch that lets a Ring >= 2.5 process load
// uninstrumented, uncooperative code at runtime.
func (s *Scheduler) LoadDynamic(callerPID PID, source, chunkName string) (string, int, error) {
	caller := s.mustLookup(callerPID)
	if caller == nil {
		return "", 0, kdomain.ErrNoSuchProcess(callerPID)
	}
	if caller.Ring < ktypes2_5 {
		// Rings below 2.5 are already exempt from spawn-time
		// instrumentation (§4.1); dynamic loads at these rings are native
		// trusted code and pass through unmodified.
		return source, 0, nil
	}
	return instrument.Instrument(source, chunkName)
}
