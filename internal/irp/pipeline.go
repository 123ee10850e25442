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

package irp

import (
	"time"

	"github.com/mkernel/kernel-core/internal/ipc"
	"github.com/mkernel/kernel-core/internal/kdomain"
	"github.com/mkernel/kernel-core/internal/kstatus"
)

// DefaultIRPTimeout bounds how long a calling process blocks waiting for a
// driver to complete a request before vfs_* gives up with kstatus.Timeout —
// a wedged or misbehaving driver must not hang its caller forever (§4.5).
var DefaultIRPTimeout = 5 * time.Second

// PipelineManager is the Pipeline Manager (PM): the vfs_* syscall surface
// that turns a device-facing open/read/write/close/device_control call into
// an IRP, hands it to DKMS, and blocks the caller on the IRP's completion
// event exactly the way internal/ipc's dispatcher blocks a task on any other
// Waitable (§4.5's "PM...blocks the caller on the IRP's completion").
type PipelineManager struct {
	dkms  *DKMS
	sched kdomain.Scheduler
}

// NewPipelineManager builds a PM bound to dkms and the scheduler it parks
// callers on.
func NewPipelineManager(dkms *DKMS, sched kdomain.Scheduler) *PipelineManager {
	return &PipelineManager{dkms: dkms, sched: sched}
}

// submit builds an IRP, dispatches it through DKMS, and blocks callerPID on
// its completion event, returning the driver-filled IOStatus. Every vfs_*
// entry point below is this one round trip with a different major function
// and Parameters.
func (p *PipelineManager) submit(callerPID PID, major byte, deviceName string, params Parameters) (IOStatus, error) {
	dev, err := p.dkms.resolveDevice(deviceName)
	if err != nil {
		return IOStatus{}, err
	}

	irp := newIRP(major, dev.ObjectID, deviceName, callerPID, params)

	if err := p.dkms.DispatchIRP(irp); err != nil {
		return IOStatus{}, err
	}

	abandoned, err := ipc.WaitSingle(p.sched, callerPID, irp.done, DefaultIRPTimeout)
	if err != nil {
		return IOStatus{}, err
	}
	if abandoned {
		return IOStatus{}, kstatus.New(kstatus.NoDriver, "driver for %q exited before completing the request", deviceName)
	}

	return irp.IOStatus, nil
}

// Open implements vfs_open against a device name: a bare MjCreate round
// trip carrying no payload, so the driver can do whatever per-open setup it
// needs (e.g. allocate a file-object-equivalent of its own) before the first
// read or write arrives.
func (p *PipelineManager) Open(callerPID PID, deviceName string) error {
	status, err := p.submit(callerPID, MjCreate, deviceName, Parameters{})
	if err != nil {
		return err
	}
	return status.Status
}

// Read implements vfs_read: requests up to length bytes from deviceName,
// returning whatever the driver placed in IOStatus.Data.
func (p *PipelineManager) Read(callerPID PID, deviceName string, length int) ([]byte, error) {
	status, err := p.submit(callerPID, MjRead, deviceName, Parameters{Length: length})
	if err != nil {
		return nil, err
	}
	if status.Status != nil {
		return nil, status.Status
	}
	return status.Data, nil
}

// Write implements vfs_write: hands data to deviceName's driver and returns
// the number of bytes it reports having accepted (IOStatus.Information).
func (p *PipelineManager) Write(callerPID PID, deviceName string, data []byte) (int, error) {
	status, err := p.submit(callerPID, MjWrite, deviceName, Parameters{Data: data})
	if err != nil {
		return 0, err
	}
	if status.Status != nil {
		return 0, status.Status
	}
	return status.Information, nil
}

// Close implements vfs_close: a bare MjClose round trip mirroring Open.
func (p *PipelineManager) Close(callerPID PID, deviceName string) error {
	status, err := p.submit(callerPID, MjClose, deviceName, Parameters{})
	if err != nil {
		return err
	}
	return status.Status
}

// DeviceControl implements vfs_device_control: the generic device-specific
// escape hatch (§3's "ioctl-equivalent"), carrying an opaque code and input
// buffer and returning whatever output the driver placed in IOStatus.Data.
func (p *PipelineManager) DeviceControl(callerPID PID, deviceName string, code int, in []byte) ([]byte, error) {
	status, err := p.submit(callerPID, MjDeviceControl, deviceName, Parameters{Code: code, Data: in})
	if err != nil {
		return nil, err
	}
	if status.Status != nil {
		return nil, status.Status
	}
	return status.Data, nil
}
