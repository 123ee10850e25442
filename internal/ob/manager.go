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

	"github.com/mkernel/kernel-core/internal/kstatus"
)

// TrustedPIDThreshold is the sMLTR bypass boundary from §4.2/§9: PIDs
// below this value skip synapse-token authentication. The source this
// kernel is modeled on treated "PID < 20" as convention rather than
// contract; this rewrite makes it a named constant instead of a magic
// number, per the open question in the design notes.
const TrustedPIDThreshold PID = 20

// CallerInfo is everything an access check needs about the caller,
// supplied by the scheduler on every Object Manager call.
type CallerInfo struct {
	PID   PID
	UID   uint32
	GID   uint32
	Ring  Ring
	Token string
}

// Manager is the Object Manager: the arena, the namespace, and every
// process's handle table and synapse token, wired together behind the
// operation table from §4.2.
type Manager struct {
	arena *Arena
	ns    *Namespace

	mu            sync.Mutex
	handleTables  map[PID]*HandleTable
	synapseTokens map[PID]string

	// tokenIndex maps a handle token to the pid whose table owns it, so
	// reference_by_handle can resolve a token regardless of which process
	// presents it; the actual security boundary is the synapse-token
	// comparison in authorized, not table ownership (§4.2's sMLTR model).
	tokenIndex map[string]PID
}

func NewManager() *Manager {
	return &Manager{
		arena:         NewArena(),
		ns:            NewNamespace(),
		handleTables:  make(map[PID]*HandleTable),
		synapseTokens: make(map[PID]string),
		tokenIndex:    make(map[string]PID),
	}
}

// Arena exposes the object arena to subsystems that need to register
// finalizers (ipc, irp) or inspect raw headers.
func (m *Manager) Arena() *Arena { return m.arena }

// Namespace exposes the path tree to the IRP Fabric, which resolves
// \DosDevices symlinks for /dev/* device opens.
func (m *Manager) Namespace() *Namespace { return m.ns }

// RegisterProcess allocates a fresh handle table and synapse token for a
// newly spawned process or thread, and returns the token.
func (m *Manager) RegisterProcess(pid PID) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handleTables[pid] = NewHandleTable()
	tok := NewSynapseToken()
	m.synapseTokens[pid] = tok
	return tok
}

// ShareProcess points a thread's handle table and synapse token at its
// parent's, per §4.3's thread semantics (shared handle table and token).
func (m *Manager) ShareProcess(threadPID, parentPID PID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ht, ok := m.handleTables[parentPID]; ok {
		m.handleTables[threadPID] = ht
	}
	if tok, ok := m.synapseTokens[parentPID]; ok {
		m.synapseTokens[threadPID] = tok
	}
}

// UnregisterProcess removes a process's bookkeeping and returns every
// handle entry it held, so the caller (scheduler) can release the
// underlying objects.
func (m *Manager) UnregisterProcess(pid PID) map[string]HandleEntry {
	m.mu.Lock()
	ht, ok := m.handleTables[pid]
	delete(m.handleTables, pid)
	delete(m.synapseTokens, pid)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	entries := ht.RemoveAll()

	m.mu.Lock()
	for tok := range entries {
		delete(m.tokenIndex, tok)
	}
	m.mu.Unlock()

	return entries
}

// SynapseToken returns the process's current authentication secret.
func (m *Manager) SynapseToken(pid PID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.synapseTokens[pid]
	return tok, ok
}

// Elevate regenerates a process's synapse token, invalidating every
// handle bound to the old one (§4.2).
func (m *Manager) Elevate(pid PID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok := NewSynapseToken()
	m.synapseTokens[pid] = tok
	return tok
}

func (m *Manager) handleTable(pid PID) (*HandleTable, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ht, ok := m.handleTables[pid]
	return ht, ok
}

// authorized implements the sMLTR bypass rules: trusted PIDs and Ring-0
// callers skip the synapse-token check entirely.
func (m *Manager) authorized(caller CallerInfo, bound string) bool {
	if caller.PID < TrustedPIDThreshold || caller.Ring == Ring0 {
		return true
	}
	return caller.Token == bound
}

// CreateObject allocates a new object with ref=1, handle=0, optionally
// registering it at path.
func (m *Manager) CreateObject(t Type, body interface{}, path string, sec SecurityDescriptor) (*Header, error) {
	h := m.arena.Allocate(t, body, sec)

	if path != "" {
		if err := m.InsertObject(h, path); err != nil {
			m.arena.Deref(h.ID)
			return nil, err
		}
	}
	return h, nil
}

// InsertObject registers an already-allocated object at a namespace path.
func (m *Manager) InsertObject(h *Header, path string) error {
	path = ToKernelPath(path)
	if err := m.ns.Insert(path, h.ID); err != nil {
		return err
	}
	h.Path = path
	return nil
}

// LookupObject resolves path, following symlinks, and returns the object
// with ref+1. If expected is non-nil, the object's type must match.
func (m *Manager) LookupObject(path string, expected *Type) (*Header, error) {
	id, err := m.ns.resolve(path, func(id ObjectID) (string, bool) {
		h, ok := m.arena.Get(id)
		if !ok || h.Type != TypeSymlink {
			return "", false
		}
		sl, ok := h.Body.(*Symlink)
		if !ok {
			return "", false
		}
		return sl.Target, true
	})
	if err != nil {
		return nil, err
	}

	h, ok := m.arena.Get(id)
	if !ok {
		return nil, kstatus.New(kstatus.NotFound, "%s", path)
	}
	if expected != nil && h.Type != *expected {
		return nil, kstatus.New(kstatus.WrongType, "%s: expected %s, got %s", path, expected.String(), h.Type.String())
	}

	m.arena.Ref(h.ID)
	return h, nil
}

// checkAccess applies the standard three-triad permission semantics from
// PathAccess/checkPerm in the teacher's process package, generalized from
// a Unix file-system check to namespace object access.
func checkAccess(sec SecurityDescriptor, caller CallerInfo, mode AccessMode) bool {
	if sec.HasRingReq && !caller.Ring.AtLeast(sec.RequiredRing) {
		return false
	}

	m := uint32(mode)

	if sec.OwnerUID == caller.UID {
		perm := (sec.Mode & 0700) >> 6
		if m&perm == m {
			return true
		}
	}
	if sec.GroupGID == caller.GID {
		perm := (sec.Mode & 0070) >> 3
		if m&perm == m {
			return true
		}
	}
	perm := sec.Mode & 0007
	return m&perm == m
}

// OpenHandle resolves path and, if the caller passes the access check,
// creates a handle bound to the caller's current synapse token.
func (m *Manager) OpenHandle(caller CallerInfo, path string, desired AccessMode) (string, error) {
	h, err := m.LookupObject(path, nil)
	if err != nil {
		return "", err
	}

	if h.DeletePending {
		m.arena.Deref(h.ID)
		return "", kstatus.New(kstatus.NotFound, "%s: delete pending", path)
	}

	if !checkAccess(h.Security, caller, desired) {
		m.arena.Deref(h.ID)
		return "", kstatus.New(kstatus.AccessDenied, "%s", path)
	}

	// LookupObject already added one ref for this lookup; CreateHandle adds
	// the handle's own ref+handle pair, so release the lookup ref first.
	m.arena.Deref(h.ID)

	return m.CreateHandle(caller, h, desired)
}

// CreateHandle installs a handle to an already-referenced object in pid's
// handle table, bound to the caller's current synapse token.
func (m *Manager) CreateHandle(caller CallerInfo, obj *Header, access AccessMode) (string, error) {
	ht, ok := m.handleTable(caller.PID)
	if !ok {
		return "", kstatus.New(kstatus.NotFound, "pid %d has no handle table", caller.PID)
	}

	if obj.DeletePending {
		return "", kstatus.New(kstatus.NotFound, "object %d: delete pending", obj.ID)
	}

	if !m.arena.RefHandle(obj.ID) {
		return "", kstatus.New(kstatus.NotFound, "object %d", obj.ID)
	}

	tok, err := ht.Add(HandleEntry{
		Object:            obj.ID,
		GrantedAccess:     access,
		BoundSynapseToken: caller.Token,
	})
	if err != nil {
		m.arena.CloseHandleRefs(obj.ID)
		return "", err
	}

	m.mu.Lock()
	m.tokenIndex[tok] = caller.PID
	m.mu.Unlock()

	return tok, nil
}

// ReferenceByHandle resolves a handle token to its object and authenticates
// the caller's synapse token against the token the handle was bound to
// (subject to the sMLTR bypass), returning the object with ref+1. The
// token is resolved globally — any process may present any handle token
// it has learned of (e.g. across a shared-memory section or IPC message);
// the security boundary is the bound_synapse_token comparison, not which
// process's table the handle happens to live in.
func (m *Manager) ReferenceByHandle(caller CallerInfo, token string, access AccessMode) (*Header, error) {
	m.mu.Lock()
	owner, ok := m.tokenIndex[token]
	ht, htOK := m.handleTables[owner]
	m.mu.Unlock()
	if !ok || !htOK {
		return nil, kstatus.New(kstatus.BadHandle, "%s", token)
	}

	e, ok := ht.Get(token)
	if !ok {
		return nil, kstatus.New(kstatus.BadHandle, "%s", token)
	}

	if !m.authorized(caller, e.BoundSynapseToken) {
		return nil, kstatus.New(kstatus.TokenMismatch, "pid %d", caller.PID)
	}

	if access != 0 && e.GrantedAccess&access != access {
		return nil, kstatus.New(kstatus.AccessDenied, "handle %s", token)
	}

	h, ok := m.arena.Get(e.Object)
	if !ok {
		return nil, kstatus.New(kstatus.BadHandle, "dangling handle %s", token)
	}

	m.arena.Ref(h.ID)
	return h, nil
}

// CloseHandle removes token from pid's handle table and drops the
// matching (ref_count, handle_count) pair, finalizing the object if both
// reach zero.
func (m *Manager) CloseHandle(pid PID, token string) error {
	ht, ok := m.handleTable(pid)
	if !ok {
		return kstatus.New(kstatus.BadHandle, "pid %d has no handle table", pid)
	}

	e, ok := ht.Remove(token)
	if !ok {
		return kstatus.New(kstatus.BadHandle, "%s", token)
	}

	m.mu.Lock()
	delete(m.tokenIndex, token)
	m.mu.Unlock()

	m.arena.CloseHandleRefs(e.Object)
	return nil
}

// Dereference drops a plain reference (e.g. one taken by LookupObject or
// ReferenceByHandle) without touching any handle table.
func (m *Manager) Dereference(h *Header) {
	m.arena.Deref(h.ID)
}

// GetStandardHandle implements ob_get_standard_handle: the token currently
// bound to one of pid's conventional slots (StdIn/StdOut/StdErr).
func (m *Manager) GetStandardHandle(pid PID, slot int) (string, bool) {
	ht, ok := m.handleTable(pid)
	if !ok {
		return "", false
	}
	return ht.GetStandard(slot)
}

// SetStandardHandle implements ob_set_standard_handle: rebinds one of
// pid's conventional slots to token, the same slot mapping InheritHandles
// copies to a child on spawn.
func (m *Manager) SetStandardHandle(pid PID, slot int, token string) error {
	ht, ok := m.handleTable(pid)
	if !ok {
		return kstatus.New(kstatus.NotFound, "pid %d has no handle table", pid)
	}
	ht.SetStandard(slot, token)
	return nil
}

// InheritHandles duplicates every inheritable handle in the parent's
// table into the child's, bumping ref_count/handle_count and rebinding
// each duplicate to the child's own synapse token, then copies the
// standard-handle slot mapping (§4.2).
func (m *Manager) InheritHandles(parentPID, childPID PID) error {
	parentHT, ok := m.handleTable(parentPID)
	if !ok {
		return kstatus.New(kstatus.NotFound, "parent pid %d", parentPID)
	}
	childHT, ok := m.handleTable(childPID)
	if !ok {
		return kstatus.New(kstatus.NotFound, "child pid %d", childPID)
	}
	childToken, ok := m.SynapseToken(childPID)
	if !ok {
		return kstatus.New(kstatus.NotFound, "child pid %d has no synapse token", childPID)
	}

	oldToNew := make(map[string]string)

	for oldTok, e := range parentHT.Entries() {
		if !m.arena.RefHandle(e.Object) {
			continue
		}
		newTok, err := childHT.Add(HandleEntry{
			Object:            e.Object,
			GrantedAccess:     e.GrantedAccess,
			BoundSynapseToken: childToken,
		})
		if err != nil {
			m.arena.CloseHandleRefs(e.Object)
			continue
		}

		m.mu.Lock()
		m.tokenIndex[newTok] = childPID
		m.mu.Unlock()

		oldToNew[oldTok] = newTok
	}

	for _, slot := range []int{StdIn, StdOut, StdErr} {
		if oldTok, ok := parentHT.GetStandard(slot); ok {
			if newTok, ok := oldToNew[oldTok]; ok {
				childHT.SetStandard(slot, newTok)
			}
		}
	}

	return nil
}
