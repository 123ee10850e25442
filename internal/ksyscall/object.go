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
	"github.com/mkernel/kernel-core/internal/ob"
	"github.com/mkernel/kernel-core/internal/sched"
)

// registerOb wires the ob_* syscalls of §6 — directory creation, lookup,
// and handle table operations — directly against internal/ob.Manager.
func (t *Table) registerOb() {
	t.register("ob_create_object", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		path, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		mode, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		caller, err := t.callerInfo(h)
		if err != nil {
			return nil, err
		}
		header, err := t.ob.CreateObject(ob.TypeDirectory, &ob.Directory{}, path,
			ob.SecurityDescriptor{OwnerUID: caller.UID, GroupGID: caller.GID, Mode: uint32(mode)})
		if err != nil {
			return nil, err
		}
		return header.ID, nil
	})

	t.register("ob_lookup", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		path, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		header, err := t.ob.LookupObject(path, nil)
		if err != nil {
			return nil, err
		}
		defer t.ob.Dereference(header)
		return header.ID, nil
	})

	t.register("ob_open_handle", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		path, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		access, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		caller, err := t.callerInfo(h)
		if err != nil {
			return nil, err
		}
		return t.ob.OpenHandle(caller, path, ob.AccessMode(access))
	})

	t.register("ob_reference_by_handle", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		token, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		access, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		caller, err := t.callerInfo(h)
		if err != nil {
			return nil, err
		}
		header, err := t.ob.ReferenceByHandle(caller, token, ob.AccessMode(access))
		if err != nil {
			return nil, err
		}
		defer t.ob.Dereference(header)
		return header.ID, nil
	})

	t.register("ob_close_handle", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		token, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return nil, t.ob.CloseHandle(h.PID(), token)
	})

	t.register("ob_insert_object", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		id, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		path, err := argString(args, 1)
		if err != nil {
			return nil, err
		}
		header, ok := t.ob.Arena().Get(ob.ObjectID(id))
		if !ok {
			return nil, kstatus.New(kstatus.NotFound, "object %d", id)
		}
		return nil, t.ob.InsertObject(header, path)
	})

	t.register("ob_create_handle", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		id, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		access, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		header, ok := t.ob.Arena().Get(ob.ObjectID(id))
		if !ok {
			return nil, kstatus.New(kstatus.NotFound, "object %d", id)
		}
		caller, err := t.callerInfo(h)
		if err != nil {
			return nil, err
		}
		return t.ob.CreateHandle(caller, header, ob.AccessMode(access))
	})

	t.register("ob_get_standard_handle", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		slot, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		tok, ok := t.ob.GetStandardHandle(h.PID(), slot)
		if !ok {
			return nil, kstatus.New(kstatus.NotFound, "slot %d", slot)
		}
		return tok, nil
	})

	t.register("ob_set_standard_handle", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		slot, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		token, err := argString(args, 1)
		if err != nil {
			return nil, err
		}
		return nil, t.ob.SetStandardHandle(h.PID(), slot, token)
	})

	t.register("ob_inherit_handles", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		parentPID, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		childPID, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		return nil, t.ob.InheritHandles(ktypes.PID(parentPID), ktypes.PID(childPID))
	})
}
