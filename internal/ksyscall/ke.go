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
	"github.com/mkernel/kernel-core/internal/ipc"
	"github.com/mkernel/kernel-core/internal/kstatus"
	"github.com/mkernel/kernel-core/internal/ktypes"
	"github.com/mkernel/kernel-core/internal/ob"
	"github.com/mkernel/kernel-core/internal/sched"
)

// waitableFor resolves a handle token to the ipc.Waitable it backs, for
// ke_wait_single/ke_wait_multiple, which operate on whatever dispatcher
// object the token happens to name.
func (t *Table) waitableFor(caller ob.CallerInfo, token string) (ipc.Waitable, *ob.Header, error) {
	header, err := t.ob.ReferenceByHandle(caller, token, 0)
	if err != nil {
		return nil, nil, err
	}
	w, ok := header.Body.(ipc.Waitable)
	if !ok {
		t.ob.Dereference(header)
		return nil, nil, kstatus.New(kstatus.WrongType, "handle %s is not waitable", token)
	}
	return w, header, nil
}

// registerKE wires the ke_* syscalls of §6: every Kernel IPC object's
// creation, the uniform wait entry points, and each object type's
// type-specific operation (set/reset/pulse, release, map, send/receive).
func (t *Table) registerKE() {
	t.register("ke_create_event", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		manualReset, err := argBool(args, 0)
		if err != nil {
			return nil, err
		}
		caller, err := t.callerInfo(h)
		if err != nil {
			return nil, err
		}
		_, tok, err := t.ipcMgr.CreateEvent(caller, manualReset, "", ob.SecurityDescriptor{OwnerUID: caller.UID, Mode: 0600})
		return tok, err
	})

	t.register("ke_set_event", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		return t.withEvent(h, args, func(e *ipc.EventBody) error { e.Set(t.sched); return nil })
	})
	t.register("ke_reset_event", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		return t.withEvent(h, args, func(e *ipc.EventBody) error { e.Reset(); return nil })
	})
	t.register("ke_pulse_event", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		return t.withEvent(h, args, func(e *ipc.EventBody) error { e.Pulse(t.sched); return nil })
	})

	t.register("ke_create_mutex", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		caller, err := t.callerInfo(h)
		if err != nil {
			return nil, err
		}
		_, tok, err := t.ipcMgr.CreateMutex(caller, "", ob.SecurityDescriptor{OwnerUID: caller.UID, Mode: 0600})
		return tok, err
	})

	t.register("ke_release_mutex", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		token, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		caller, err := t.callerInfo(h)
		if err != nil {
			return nil, err
		}
		w, header, err := t.waitableFor(caller, token)
		if err != nil {
			return nil, err
		}
		defer t.ob.Dereference(header)
		m, ok := w.(*ipc.MutexBody)
		if !ok {
			return nil, kstatus.New(kstatus.WrongType, "handle %s is not a mutex", token)
		}
		if err := m.Release(t.sched, h.PID()); err != nil {
			return nil, err
		}
		t.ipcMgr.TrackRelease(h.PID(), m)
		return nil, nil
	})

	t.register("ke_create_semaphore", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		initial, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		max, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		caller, err := t.callerInfo(h)
		if err != nil {
			return nil, err
		}
		_, tok, err := t.ipcMgr.CreateSemaphore(caller, initial, max, "", ob.SecurityDescriptor{OwnerUID: caller.UID, Mode: 0600})
		return tok, err
	})

	t.register("ke_release_semaphore", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		token, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		n, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		caller, err := t.callerInfo(h)
		if err != nil {
			return nil, err
		}
		w, header, err := t.waitableFor(caller, token)
		if err != nil {
			return nil, err
		}
		defer t.ob.Dereference(header)
		s, ok := w.(*ipc.SemaphoreBody)
		if !ok {
			return nil, kstatus.New(kstatus.WrongType, "handle %s is not a semaphore", token)
		}
		return nil, s.Release(t.sched, n)
	})

	t.register("ke_create_pipe", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		capacity, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		caller, err := t.callerInfo(h)
		if err != nil {
			return nil, err
		}
		readTok, writeTok, err := t.ipcMgr.CreatePipe(caller, capacity)
		if err != nil {
			return nil, err
		}
		return [2]string{readTok, writeTok}, nil
	})

	t.register("ke_create_section", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		size, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		caller, err := t.callerInfo(h)
		if err != nil {
			return nil, err
		}
		_, tok, err := t.ipcMgr.CreateSection(caller, size, "", ob.SecurityDescriptor{OwnerUID: caller.UID, Mode: 0600})
		return tok, err
	})

	t.register("ke_map_section", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		token, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		caller, err := t.callerInfo(h)
		if err != nil {
			return nil, err
		}
		header, err := t.ob.ReferenceByHandle(caller, token, 0)
		if err != nil {
			return nil, err
		}
		defer t.ob.Dereference(header)
		sec, ok := header.Body.(*ipc.SectionBody)
		if !ok {
			return nil, kstatus.New(kstatus.WrongType, "handle %s is not a section", token)
		}
		return sec.Map(), nil
	})

	t.register("ke_create_mqueue", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		capacity, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		maxMsg, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		caller, err := t.callerInfo(h)
		if err != nil {
			return nil, err
		}
		_, tok, err := t.ipcMgr.CreateMessageQueue(caller, capacity, maxMsg, "", ob.SecurityDescriptor{OwnerUID: caller.UID, Mode: 0600})
		return tok, err
	})

	t.register("ke_mq_send", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		token, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		payload, err := argBytes(args, 1)
		if err != nil {
			return nil, err
		}
		priority, err := argInt(args, 2)
		if err != nil {
			return nil, err
		}
		timeout, err := argDuration(args, 3)
		if err != nil {
			return nil, err
		}
		caller, err := t.callerInfo(h)
		if err != nil {
			return nil, err
		}
		header, err := t.ob.ReferenceByHandle(caller, token, 0)
		if err != nil {
			return nil, err
		}
		defer t.ob.Dereference(header)
		q, ok := header.Body.(*ipc.MessageQueueBody)
		if !ok {
			return nil, kstatus.New(kstatus.WrongType, "handle %s is not a message queue", token)
		}
		return nil, q.Send(t.sched, h.PID(), payload, priority, timeout)
	})

	t.register("ke_mq_receive", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		token, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		timeout, err := argDuration(args, 1)
		if err != nil {
			return nil, err
		}
		caller, err := t.callerInfo(h)
		if err != nil {
			return nil, err
		}
		header, err := t.ob.ReferenceByHandle(caller, token, 0)
		if err != nil {
			return nil, err
		}
		defer t.ob.Dereference(header)
		q, ok := header.Body.(*ipc.MessageQueueBody)
		if !ok {
			return nil, kstatus.New(kstatus.WrongType, "handle %s is not a message queue", token)
		}
		payload, priority, err := q.Receive(t.sched, h.PID(), timeout)
		if err != nil {
			return nil, err
		}
		return [2]interface{}{payload, priority}, nil
	})

	t.register("ke_wait_single", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		token, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		timeout, err := argDuration(args, 1)
		if err != nil {
			return nil, err
		}
		caller, err := t.callerInfo(h)
		if err != nil {
			return nil, err
		}
		w, header, err := t.waitableFor(caller, token)
		if err != nil {
			return nil, err
		}
		defer t.ob.Dereference(header)

		abandoned, err := ipc.WaitSingle(t.sched, h.PID(), w, timeout)
		if err != nil {
			return nil, err
		}
		if m, ok := w.(*ipc.MutexBody); ok {
			t.ipcMgr.TrackAcquire(h.PID(), m)
		}
		return abandoned, nil
	})

	t.register("ke_wait_multiple", ktypes.Ring3, func(h *sched.TaskHandle, args []interface{}) (interface{}, error) {
		tokens, ok := args[0].([]string)
		if !ok {
			return nil, kstatus.New(kstatus.InvalidArgument, "argument 0: expected []string")
		}
		waitAll, err := argBool(args, 1)
		if err != nil {
			return nil, err
		}
		timeout, err := argDuration(args, 2)
		if err != nil {
			return nil, err
		}
		caller, err := t.callerInfo(h)
		if err != nil {
			return nil, err
		}

		objs := make([]ipc.Waitable, 0, len(tokens))
		headers := make([]*ob.Header, 0, len(tokens))
		defer func() {
			for _, hd := range headers {
				t.ob.Dereference(hd)
			}
		}()
		for _, tok := range tokens {
			w, header, err := t.waitableFor(caller, tok)
			if err != nil {
				return nil, err
			}
			objs = append(objs, w)
			headers = append(headers, header)
		}

		index, err := ipc.WaitMultiple(t.sched, h.PID(), objs, waitAll, timeout)
		if err != nil {
			return nil, err
		}
		if waitAll {
			for _, o := range objs {
				if m, ok := o.(*ipc.MutexBody); ok {
					t.ipcMgr.TrackAcquire(h.PID(), m)
				}
			}
		} else if m, ok := objs[index].(*ipc.MutexBody); ok {
			t.ipcMgr.TrackAcquire(h.PID(), m)
		}
		return index, nil
	})
}

func (t *Table) withEvent(h *sched.TaskHandle, args []interface{}, fn func(*ipc.EventBody) error) (interface{}, error) {
	token, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	caller, err := t.callerInfo(h)
	if err != nil {
		return nil, err
	}
	header, err := t.ob.ReferenceByHandle(caller, token, 0)
	if err != nil {
		return nil, err
	}
	defer t.ob.Dereference(header)
	e, ok := header.Body.(*ipc.EventBody)
	if !ok {
		return nil, kstatus.New(kstatus.WrongType, "handle %s is not an event", token)
	}
	return nil, fn(e)
}
