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

// registerVFS wires the vfs_* syscalls of §6 onto internal/irp's Pipeline
// Manager, which turns each call into an IRP round trip through DKMS.
func (t *Table) registerVFS() {
	t.register("vfs_open", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		device, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return nil, t.pm.Open(h.PID(), device)
	})

	t.register("vfs_read", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		device, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		length, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		return t.pm.Read(h.PID(), device, length)
	})

	t.register("vfs_write", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		device, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		data, err := argBytes(args, 1)
		if err != nil {
			return nil, err
		}
		return t.pm.Write(h.PID(), device, data)
	})

	t.register("vfs_close", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		device, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return nil, t.pm.Close(h.PID(), device)
	})

	t.register("vfs_device_control", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		device, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		code, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		in, err := argBytes(args, 2)
		if err != nil {
			return nil, err
		}
		return t.pm.DeviceControl(h.PID(), device, code, in)
	})
}
