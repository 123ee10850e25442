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

// Package irp implements the IRP Fabric (§4.5): the Pipeline Manager's
// VFS-facing syscalls and DKMS's device tree, driver dispatch table, and
// driver-loading sequence. An IRP travels PM -> DKMS -> driver process ->
// DKMS -> PM exactly as spec.md describes it; internal/ipc's Mailbox
// carries the driver-bound leg of that trip and a plain auto-reset event
// carries the originator-bound wakeup, so irp never needs a channel or
// callback type of its own.
package irp

import (
	"sync/atomic"

	"github.com/mkernel/kernel-core/internal/ipc"
	"github.com/mkernel/kernel-core/internal/ktypes"
	"github.com/mkernel/kernel-core/internal/ob"
)

type PID = ktypes.PID

// Major function codes (§3, §4.5) — the discriminator selecting a driver's
// dispatch-table entry.
const (
	MjCreate        byte = 0x00
	MjClose         byte = 0x02
	MjRead          byte = 0x03
	MjWrite         byte = 0x04
	MjDeviceControl byte = 0x0E
)

// Parameters is an IRP's request payload: the operation-specific data
// DispatchIRP hands the driver (write bytes, a device_control input
// buffer, a read length, a device_control code), opaque to PM and DKMS
// alike (§6's "information opaque to PM and DKMS").
type Parameters struct {
	Data   []byte
	Length int
	Code   int
}

// IOStatus is the result block the driver fills in on completion (§3).
type IOStatus struct {
	Status      error
	Information int
	Data        []byte // result payload, e.g. bytes read
}

// IRP is the seven-field wire structure of §3, plus the in-flight
// completion event only the kernel side needs (never serialized to the
// driver — the driver addresses the IRP by ID through CompleteRequest).
type IRP struct {
	ID            uint64
	MajorFunction byte
	DeviceObject  ob.ObjectID
	Parameters    Parameters
	IOStatus      IOStatus
	SenderPID     PID
	DeviceName    string
	Flags         uint32

	done *ipc.EventBody
}

var nextIRPID uint64

func newIRP(major byte, deviceID ob.ObjectID, deviceName string, sender PID, params Parameters) *IRP {
	return &IRP{
		ID:            atomic.AddUint64(&nextIRPID, 1),
		MajorFunction: major,
		DeviceObject:  deviceID,
		DeviceName:    deviceName,
		SenderPID:     sender,
		Parameters:    params,
		done:          ipc.NewEvent(false),
	}
}

// DriverType is the descriptor's driver classification (§4.5).
type DriverType string

const (
	KMD DriverType = "KMD" // kernel-mode driver, ring 2
	CMD DriverType = "CMD" // component-mode driver, one instance per hardware match, ring 2
	UMD DriverType = "UMD" // user-mode driver, ring 3
)

// DriverDescriptor is what DKMS reads off a driver source before loading it
// (§4.5): name, type, load priority, version, and (for CMD) the hardware
// component type it matches.
type DriverDescriptor struct {
	Name          string
	Type          DriverType
	LoadPriority  int
	Version       string
	ComponentType string // CMD only
	Signature     []byte
}

// DriverObject is the loaded driver's kernel-side record (§3): its process,
// ring, and the major functions it has registered a dispatch entry for.
type DriverObject struct {
	Descriptor DriverDescriptor
	PID        PID
	Ring       ktypes.Ring
	Dispatch   map[byte]bool
	Devices    []string

	initDone *ipc.EventBody
}

// DeviceObject is a device's kernel-side record (§3): the name it is
// reachable by and the driver that owns it.
type DeviceObject struct {
	Name       string
	DriverName string
	ObjectID   ob.ObjectID
}
