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

// Package ksyscall assembles the kernel's full syscall surface (§6) into
// one dispatch table: a name, a minimum ring, and a handler, consulting
// internal/capsurface before internal/sched.Scheduler.Enter's own ring
// check. A syscall hidden at the caller's ring and one refused by Enter's
// ring check both fail with access_denied; an unknown syscall name fails
// with not_found.
package ksyscall

import (
	"time"

	"github.com/mkernel/kernel-core/internal/capsurface"
	"github.com/mkernel/kernel-core/internal/ipc"
	"github.com/mkernel/kernel-core/internal/irp"
	"github.com/mkernel/kernel-core/internal/kstatus"
	"github.com/mkernel/kernel-core/internal/ktypes"
	"github.com/mkernel/kernel-core/internal/ob"
	"github.com/mkernel/kernel-core/internal/sched"
)

// entry pairs a handler with the ring Enter enforces; Table.Check enforces
// the coarser per-ring visibility on top.
type entry struct {
	minRing ktypes.Ring
	fn      sched.SyscallFunc
}

// Table is the assembled name -> handler map, bound to the concrete
// subsystems it dispatches into.
type Table struct {
	sched   *sched.Scheduler
	ob      *ob.Manager
	ipcMgr  *ipc.Manager
	dkms    *irp.DKMS
	pm      *irp.PipelineManager
	surface *capsurface.Table

	handlers map[string]entry
}

// New builds the full dispatch table wired against the given subsystems.
func New(s *sched.Scheduler, obMgr *ob.Manager, ipcMgr *ipc.Manager, dkms *irp.DKMS, pm *irp.PipelineManager, surface *capsurface.Table) *Table {
	t := &Table{sched: s, ob: obMgr, ipcMgr: ipcMgr, dkms: dkms, pm: pm, surface: surface, handlers: make(map[string]entry)}
	t.registerProcess()
	t.registerOb()
	t.registerVFS()
	t.registerKE()
	t.registerSignal()
	t.registerDK()
	t.registerKernel()
	return t
}

func (t *Table) register(name string, minRing ktypes.Ring, fn sched.SyscallFunc) {
	t.handlers[name] = entry{minRing: minRing, fn: fn}
}

// Dispatch implements the syscall entry point a transport (gRPC, a local
// trap, a test harness) calls on a task's behalf: capability-surface
// visibility first, then internal/sched.Scheduler.Enter's ring check and
// pending-signal delivery, then the handler itself.
func (t *Table) Dispatch(h *sched.TaskHandle, name string, args []interface{}) (interface{}, error) {
	e, ok := t.handlers[name]
	if !ok {
		return nil, kstatus.New(kstatus.NotFound, "syscall %q", name)
	}

	ring, ok := t.sched.GetRing(h.PID())
	if !ok {
		return nil, kstatus.New(kstatus.NotFound, "pid %d", h.PID())
	}
	if err := t.surface.Check(ring, name); err != nil {
		return nil, err
	}

	return t.sched.Enter(h, e.minRing, e.fn, args)
}

func arg(args []interface{}, i int) (interface{}, error) {
	if i >= len(args) {
		return nil, kstatus.New(kstatus.InvalidArgument, "argument %d missing", i)
	}
	return args[i], nil
}

func argString(args []interface{}, i int) (string, error) {
	v, err := arg(args, i)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", kstatus.New(kstatus.InvalidArgument, "argument %d: expected string", i)
	}
	return s, nil
}

func argInt(args []interface{}, i int) (int, error) {
	v, err := arg(args, i)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int)
	if !ok {
		return 0, kstatus.New(kstatus.InvalidArgument, "argument %d: expected int", i)
	}
	return n, nil
}

func argBytes(args []interface{}, i int) ([]byte, error) {
	v, err := arg(args, i)
	if err != nil {
		return nil, err
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, kstatus.New(kstatus.InvalidArgument, "argument %d: expected []byte", i)
	}
	return b, nil
}

func argBool(args []interface{}, i int) (bool, error) {
	v, err := arg(args, i)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, kstatus.New(kstatus.InvalidArgument, "argument %d: expected bool", i)
	}
	return b, nil
}

func argDuration(args []interface{}, i int) (time.Duration, error) {
	v, err := arg(args, i)
	if err != nil {
		return 0, err
	}
	d, ok := v.(time.Duration)
	if !ok {
		return 0, kstatus.New(kstatus.InvalidArgument, "argument %d: expected time.Duration", i)
	}
	return d, nil
}

// callerInfo builds the ob.CallerInfo a handle-table operation needs from
// the task handle the syscall is running on behalf of.
func (t *Table) callerInfo(h *sched.TaskHandle) (ob.CallerInfo, error) {
	ring, ok := t.sched.GetRing(h.PID())
	if !ok {
		return ob.CallerInfo{}, kstatus.New(kstatus.NotFound, "pid %d", h.PID())
	}
	tok, _ := t.sched.GetSynapseToken(h.PID())
	uid, _ := t.sched.GetUID(h.PID())
	return ob.CallerInfo{PID: h.PID(), UID: uid, Ring: ring, Token: tok}, nil
}
