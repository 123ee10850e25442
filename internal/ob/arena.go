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

package ob

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Finalizer is invoked once an object's ref_count and handle_count both
// reach zero and it is not permanent. Subsystems (ipc, irp) register one
// per object type to release their type-specific state (e.g. close a
// pipe's ring buffer, unlink a driver's device list).
type Finalizer func(h *Header)

// Arena is the central, id-keyed slab every kernel object lives in.
// Cross-references between objects are always ObjectIDs, never pointers,
// per the design notes; Arena is the only place a *Header is dereferenced.
type Arena struct {
	mu         sync.Mutex
	objects    map[ObjectID]*Header
	nextID     uint64
	finalizers map[Type]Finalizer
}

func NewArena() *Arena {
	return &Arena{
		objects:    make(map[ObjectID]*Header),
		finalizers: make(map[Type]Finalizer),
	}
}

// RegisterFinalizer installs the cleanup hook for a given object type.
func (a *Arena) RegisterFinalizer(t Type, f Finalizer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finalizers[t] = f
}

// Allocate creates a new header with ref=1, handle=0 and stores it in the
// arena, per create_object's lifecycle contract.
func (a *Arena) Allocate(t Type, body interface{}, sec SecurityDescriptor) *Header {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextID++
	h := &Header{
		ID:       ObjectID(a.nextID),
		Type:     t,
		RefCount: 1,
		Security: sec,
		Body:     body,
	}
	a.objects[h.ID] = h
	return h
}

// Get returns the header for id, or false if it no longer exists.
func (a *Arena) Get(id ObjectID) (*Header, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.objects[id]
	return h, ok
}

// Ref increments an object's ref_count. Used whenever a new reference is
// created: lookup_object, create_handle/reference_by_handle, and handle
// inheritance on spawn.
func (a *Arena) Ref(id ObjectID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.objects[id]
	if !ok {
		return false
	}
	h.RefCount++
	return true
}

// RefHandle increments both ref_count and handle_count, as every handle
// creation does.
func (a *Arena) RefHandle(id ObjectID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.objects[id]
	if !ok {
		return false
	}
	h.RefCount++
	h.HandleCount++
	return true
}

// Deref decrements ref_count by one (a plain dereference, not a handle
// close) and finalizes the object if it reaches zero.
func (a *Arena) Deref(id ObjectID) {
	a.derefN(id, 1, false)
}

// CloseHandleRefs decrements both ref_count and handle_count by one, as
// close_handle does, and finalizes if both reach zero.
func (a *Arena) CloseHandleRefs(id ObjectID) {
	a.derefN(id, 1, true)
}

func (a *Arena) derefN(id ObjectID, n int, alsoHandle bool) {
	a.mu.Lock()
	h, ok := a.objects[id]
	if !ok {
		a.mu.Unlock()
		return
	}

	h.RefCount -= n
	if alsoHandle {
		h.HandleCount -= n
	}

	if h.HandleCount > h.RefCount {
		a.mu.Unlock()
		logrus.Panicf("kernel panic: object %d handle_count %d exceeds ref_count %d",
			h.ID, h.HandleCount, h.RefCount)
		return
	}

	finalize := h.RefCount <= 0 && h.HandleCount <= 0 && !h.Permanent
	if finalize {
		delete(a.objects, id)
		fin := a.finalizers[h.Type]
		a.mu.Unlock()
		if fin != nil {
			fin(h)
		}
		return
	}
	a.mu.Unlock()
}

// MarkDeletePending sets delete_pending; the object is destroyed the next
// time both counts reach zero, and no new handles may be opened against it
// in the meantime (enforced by Manager.OpenHandle and Manager.CreateHandle
// checking DeletePending before they create a handle).
func (a *Arena) MarkDeletePending(id ObjectID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.objects[id]
	if !ok {
		return false
	}
	h.DeletePending = true
	return true
}

// Count returns the number of live objects, for tests and diagnostics.
func (a *Arena) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.objects)
}
