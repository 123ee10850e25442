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
	"github.com/mkernel/kernel-core/internal/ktypes"
	"github.com/mkernel/kernel-core/internal/sched"
)

// signalMailboxName is the mailbox message internal/sched.SetSignalHandler
// installs for a process that asked to be notified of a signal through
// signal_handle, rather than polling with signal_pull; it rides the same
// named-mailbox path irp.DKMS uses for its own "irp_dispatch" and
// "driver_init" deliveries.
const signalMailboxName = "signal"

// registerSignal wires the signal_* syscalls of §4.4. signal_handle never
// hands a caller-supplied Go closure to internal/sched.SetSignalHandler —
// no syscall argument can carry one — so "install a handler" instead means
// "forward delivery into the caller's mailbox", which signal_pull-style
// polling can already consume via ipc.MailboxRegistry.WaitMessage.
func (t *Table) registerSignal() {
	t.register("signal_handle", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		sig, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		install, err := argBool(args, 1)
		if err != nil {
			return nil, err
		}
		var handler func(ktypes.PID, int)
		if install {
			mailboxes := t.ipcMgr.Mailboxes()
			handler = func(pid ktypes.PID, sig int) {
				mailboxes.SignalSend(t.sched, pid, signalMailboxName, sig)
			}
		}
		return nil, t.sched.SetSignalHandler(h.PID(), sig, handler)
	})

	t.register("signal_mask", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		sig, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		masked, err := argBool(args, 1)
		if err != nil {
			return nil, err
		}
		return nil, t.sched.SetSignalMask(h.PID(), sig, masked)
	})

	t.register("signal_pull", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		sig, pending := t.sched.PullSignal(h.PID())
		if !pending {
			return nil, nil
		}
		return sig, nil
	})

	t.register("signal_send", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		pid, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		sig, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		return nil, t.sched.DeliverSignal(ktypes.PID(pid), sig)
	})
}
