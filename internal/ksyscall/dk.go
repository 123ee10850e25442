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
	"github.com/mkernel/kernel-core/internal/irp"
	"github.com/mkernel/kernel-core/internal/kstatus"
	"github.com/mkernel/kernel-core/internal/ktypes"
	"github.com/mkernel/kernel-core/internal/sched"
)

// registerDK wires the dk_* syscalls of §6 directly onto internal/irp.DKMS.
// These are driver-surface operations: capsurface's default table hides
// them from ring 3 callers that aren't driver hosts, so Dispatch's
// surface.Check denies ordinary processes before minRing even matters.
func (t *Table) registerDK() {
	t.register("dk_create_device", ktypes.Ring2, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		driverName, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		deviceName, err := argString(args, 1)
		if err != nil {
			return nil, err
		}
		majors, ok := args[2].([]byte)
		if !ok {
			return nil, kstatus.New(kstatus.InvalidArgument, "argument 2: expected []byte")
		}
		_, err = t.dkms.CreateDevice(driverName, deviceName, majors...)
		return nil, err
	})

	t.register("dk_delete_device", ktypes.Ring2, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		deviceName, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return nil, t.dkms.DeleteDevice(deviceName)
	})

	t.register("dk_create_symbolic_link", ktypes.Ring2, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		alias, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		target, err := argString(args, 1)
		if err != nil {
			return nil, err
		}
		return nil, t.dkms.CreateSymbolicLink(alias, target)
	})

	t.register("dk_complete_request", ktypes.Ring2, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		irpID, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		information, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		data, err := argBytes(args, 2)
		if err != nil {
			return nil, err
		}
		var status error
		if len(args) > 3 {
			if e, ok := args[3].(error); ok {
				status = e
			}
		}
		return nil, t.dkms.CompleteRequest(uint64(irpID), status, information, data)
	})

	t.register("dk_register_interrupt", ktypes.Ring2, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		vector, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		driverName, err := argString(args, 1)
		if err != nil {
			return nil, err
		}
		return nil, t.dkms.RegisterInterrupt(vector, driverName)
	})

	// dk_dispatch_irp is the same IRP round trip vfs_* already performs,
	// exposed under the driver-facing dk_ namespace for a caller that only
	// knows the major function number it wants (e.g. a CMD driver relaying
	// a request to another device) rather than which vfs_* verb names it.
	t.register("dk_dispatch_irp", ktypes.Ring2, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		deviceName, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		major, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		switch byte(major) {
		case irp.MjCreate:
			return nil, t.pm.Open(h.PID(), deviceName)
		case irp.MjClose:
			return nil, t.pm.Close(h.PID(), deviceName)
		case irp.MjRead:
			length, err := argInt(args, 2)
			if err != nil {
				return nil, err
			}
			return t.pm.Read(h.PID(), deviceName, length)
		case irp.MjWrite:
			data, err := argBytes(args, 2)
			if err != nil {
				return nil, err
			}
			return t.pm.Write(h.PID(), deviceName, data)
		case irp.MjDeviceControl:
			code, err := argInt(args, 2)
			if err != nil {
				return nil, err
			}
			data, err := argBytes(args, 3)
			if err != nil {
				return nil, err
			}
			return t.pm.DeviceControl(h.PID(), deviceName, code, data)
		default:
			return nil, kstatus.New(kstatus.InvalidArgument, "unknown major function %d", major)
		}
	})
}
