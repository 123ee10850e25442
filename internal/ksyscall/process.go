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

package ksyscall

import (
	"github.com/mkernel/kernel-core/internal/kstatus"
	"github.com/mkernel/kernel-core/internal/ktypes"
	"github.com/mkernel/kernel-core/internal/sched"
)

// registerProcess wires the process_* syscalls of §6. process_spawn is
// deliberately absent from this table: spawning requires handing the
// scheduler an actual Task closure, which only a host already holding Go
// code to run (internal/kernel's own bootstrap, or a driver loading
// another component) can supply — not something a syscall argument list of
// plain values can carry. internal/kernel calls sched.Scheduler.Spawn
// directly for that reason; every other process_* operation here takes
// only data arguments and fits the table.
func (t *Table) registerProcess() {
	t.register("process_kill", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		pid, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		exitCode, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		return nil, t.sched.Kill(ktypes.PID(pid), exitCode)
	})

	t.register("process_wait", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		pid, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		return t.sched.Wait(h, ktypes.PID(pid))
	})

	t.register("process_get_pid", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		return int(t.sched.GetPid(h)), nil
	})

	t.register("process_get_ring", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		pid, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		ring, ok := t.sched.GetRing(ktypes.PID(pid))
		if !ok {
			return nil, kstatus.New(kstatus.NotFound, "pid %d", pid)
		}
		return ring, nil
	})

	t.register("process_get_synapse_token", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		pid, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		tok, ok := t.sched.GetSynapseToken(ktypes.PID(pid))
		if !ok {
			return nil, kstatus.New(kstatus.NotFound, "pid %d", pid)
		}
		return tok, nil
	})

	t.register("process_elevate", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		return t.sched.Elevate(h.PID())
	})
}
