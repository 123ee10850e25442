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
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"github.com/sirupsen/logrus"

	"github.com/mkernel/kernel-core/internal/kstatus"
)

var errQuotaExceeded = kstatus.New(kstatus.QuotaExceeded, "handle table full")

// Standard handle slots, inherited on spawn and re-bindable by the
// process owner (§6).
const (
	StdIn  = -10
	StdOut = -11
	StdErr = -12
)

// DefaultHandleQuota bounds the number of open handles a single process
// may hold, enforced by create_handle's quota_exceeded error.
const DefaultHandleQuota = 4096

var tokenCounter uint64

// newToken builds an unguessable handle token from a prefix plus
// mixed-entropy hex segments sourced from wall-clock time, a PRNG, and a
// monotonic counter, per §4.2.
func newToken(prefix string) string {
	seq := atomic.AddUint64(&tokenCounter, 1)

	id, err := uuid.GenerateUUID()
	if err != nil {
		// Fall back to crypto/rand directly; uuid.GenerateUUID only fails
		// if the host's entropy source is unavailable.
		var buf [16]byte
		if _, rerr := rand.Read(buf[:]); rerr != nil {
			logrus.Errorf("ob: handle token entropy source failed: %v", rerr)
		}
		id = hex.EncodeToString(buf[:])
	}

	return fmt.Sprintf("%s-%x-%s-%x", prefix, time.Now().UnixNano(), id, seq)
}

// NewHandleToken mints a token for a handle-table entry.
func NewHandleToken() string {
	return newToken("h")
}

// NewSynapseToken mints a per-process authentication secret, rotated on
// process_elevate.
func NewSynapseToken() string {
	return newToken("syn")
}

// HandleEntry is one row of a process's handle table: the (object,
// granted_access, bound_synapse_token) triple from §3.
type HandleEntry struct {
	Object            ObjectID
	GrantedAccess     AccessMode
	BoundSynapseToken string
}

// HandleTable is one process's handle table, plus its standard-handle
// slot bindings.
type HandleTable struct {
	mu       sync.Mutex
	handles  map[string]*HandleEntry
	standard map[int]string
	quota    int
}

func NewHandleTable() *HandleTable {
	return &HandleTable{
		handles:  make(map[string]*HandleEntry),
		standard: make(map[int]string),
		quota:    DefaultHandleQuota,
	}
}

// Add inserts a new handle entry and returns its token, or "" with
// quota_exceeded if the table is full.
func (t *HandleTable) Add(entry HandleEntry) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.handles) >= t.quota {
		return "", errQuotaExceeded
	}

	tok := NewHandleToken()
	e := entry
	t.handles[tok] = &e
	return tok, nil
}

// Get returns a copy of the handle entry for token.
func (t *HandleTable) Get(token string) (HandleEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.handles[token]
	if !ok {
		return HandleEntry{}, false
	}
	return *e, true
}

// Remove deletes token from the table, returning the entry it held.
func (t *HandleTable) Remove(token string) (HandleEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.handles[token]
	if !ok {
		return HandleEntry{}, false
	}
	delete(t.handles, token)
	return *e, true
}

// SetStandard binds a conventional slot (StdIn/StdOut/StdErr) to a handle
// token already present in the table.
func (t *HandleTable) SetStandard(slot int, token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.standard[slot] = token
}

// GetStandard returns the token bound to a conventional slot.
func (t *HandleTable) GetStandard(slot int) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tok, ok := t.standard[slot]
	return tok, ok
}

// Entries returns a snapshot of every (token, entry) pair, used by handle
// inheritance on spawn.
func (t *HandleTable) Entries() map[string]HandleEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]HandleEntry, len(t.handles))
	for tok, e := range t.handles {
		out[tok] = *e
	}
	return out
}

// RemoveAll drains every handle entry, used when a process dies and its
// resources must be released.
func (t *HandleTable) RemoveAll() map[string]HandleEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]HandleEntry, len(t.handles))
	for tok, e := range t.handles {
		out[tok] = *e
	}
	t.handles = make(map[string]*HandleEntry)
	t.standard = make(map[int]string)
	return out
}
