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

// Package kernel is the boot-time assembly point: it constructs every
// subsystem (Object Manager, Scheduler, Kernel IPC, IRP Fabric, the
// syscall dispatch table) against the boot handoff published by
// internal/bootctx and wires the dependency-inverted seams
// (internal/kdomain, internal/irp.Spawner) that keep the subsystem
// packages from importing each other directly.
package kernel

import (
	"crypto/ed25519"

	"github.com/sirupsen/logrus"

	"github.com/mkernel/kernel-core/internal/bootctx"
	"github.com/mkernel/kernel-core/internal/capsurface"
	"github.com/mkernel/kernel-core/internal/ipc"
	"github.com/mkernel/kernel-core/internal/irp"
	"github.com/mkernel/kernel-core/internal/ksyscall"
	"github.com/mkernel/kernel-core/internal/ktypes"
	"github.com/mkernel/kernel-core/internal/ob"
	"github.com/mkernel/kernel-core/internal/sched"
)

// Kernel holds every subsystem a booted instance needs, for a transport
// (a local trap handler, a test harness) to dispatch syscalls against.
type Kernel struct {
	Boot     bootctx.Context
	Ob       *ob.Manager
	Sched    *sched.Scheduler
	IPC      *ipc.Manager
	DKMS     *irp.DKMS
	PM       *irp.PipelineManager
	Syscalls *ksyscall.Table
}

// schedSpawner adapts *sched.Scheduler's concrete Task signature
// (func(*sched.TaskHandle) int) onto the irp.Spawner interface DKMS
// depends on, so DKMS never imports internal/sched directly.
type schedSpawner struct{ s *sched.Scheduler }

func (a schedSpawner) Spawn(source, name string, ring ktypes.Ring, uid uint32, parentPID irp.PID, task func(h irp.TaskHandle) int) (irp.PID, error) {
	return a.s.Spawn(source, name, ring, uid, parentPID, func(h *sched.TaskHandle) int {
		return task(h)
	})
}

// bootSecurity converts the bootloader's plain-bytes signer key into the
// ed25519.PublicKey the IRP Fabric verifies driver signatures against. A
// nil Security block (secure boot not engaged) yields a zero-value
// irp.BootSecurity, which DKMS.LoadDriver treats as "accept any driver."
func bootSecurity(sec *bootctx.BootSecurity) irp.BootSecurity {
	if sec == nil {
		return irp.BootSecurity{}
	}
	return irp.BootSecurity{
		Active:       sec.Active,
		SignerPubKey: ed25519.PublicKey(sec.SignerPubKey),
	}
}

// Boot assembles a Kernel from a raw boot handoff dictionary (as published
// by the bootloader and parsed by bootctx.Load), starts the scheduler's
// Run loop, and wires the Kernel IPC manager to learn of process exits
// through the Scheduler's exit-hook seam (§4.3: a dying process's owned
// mutexes are abandoned, its waiters woken, before anything else observes
// the exit).
func Boot(handoff map[string]interface{}) *Kernel {
	ctx := bootctx.Load(handoff)

	if lvl, err := logrus.ParseLevel(ctx.Args.LogLevel); err == nil {
		logrus.SetLevel(lvl)
	} else {
		logrus.Warnf("kernel: unrecognized boot log level %q, leaving default", ctx.Args.LogLevel)
	}

	obMgr := ob.NewManager()
	s := sched.New(obMgr)

	ipcMgr := ipc.NewManager(obMgr, s)
	s.RegisterExitHook(ipcMgr.HandleProcessExit)

	dkms := irp.NewDKMS(obMgr, ipcMgr, s, bootSecurity(ctx.Security))
	pm := irp.NewPipelineManager(dkms, s)

	surface := capsurface.DefaultSurface()
	syscalls := ksyscall.New(s, obMgr, ipcMgr, dkms, pm, surface)

	go s.Run()

	if ctx.Args.SafeMode {
		logrus.Info("kernel: booting in safe mode")
	}

	return &Kernel{
		Boot:     ctx,
		Ob:       obMgr,
		Sched:    s,
		IPC:      ipcMgr,
		DKMS:     dkms,
		PM:       pm,
		Syscalls: syscalls,
	}
}

// Spawner returns the irp.Spawner bridge for this Kernel's scheduler, for
// callers that load a driver directly through DKMS.LoadDriver rather than
// the dk_create_device syscall path.
func (k *Kernel) Spawner() irp.Spawner {
	return schedSpawner{s: k.Sched}
}

// Shutdown halts the scheduler loop. Processes already parked mid-block
// are left as-is; cmd/kerneld's exit handler is expected to call this only
// after its own signal-driven drain has run.
func (k *Kernel) Shutdown() {
	k.Sched.Stop()
}
