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
	"strings"
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/mkernel/kernel-core/internal/kstatus"
)

// MaxSymlinkHops bounds symlink resolution (§3, §8): exceeding it yields
// symlink_loop rather than looping forever.
const MaxSymlinkHops = 8

// DosDevicesPrefix is where user `/`-rooted paths are mapped, per §3.
const DosDevicesPrefix = `\DosDevices`

// Namespace is the `\`-rooted object-path tree, indexed the same way the
// teacher indexes its handler-to-path associations: a radix tree keyed by
// the path bytes, swapped out (not mutated) on every insert/delete.
type Namespace struct {
	mu   sync.RWMutex
	tree *iradix.Tree
}

func NewNamespace() *Namespace {
	return &Namespace{tree: iradix.New()}
}

// ToKernelPath maps a user `/`-rooted path onto its `\DosDevices`-relative
// kernel form; paths already in kernel form (leading `\`) pass through.
func ToKernelPath(path string) string {
	if strings.HasPrefix(path, `\`) {
		return path
	}
	if strings.HasPrefix(path, "/") {
		return DosDevicesPrefix + strings.ReplaceAll(path, "/", `\`)
	}
	return path
}

// Insert registers path -> id. Returns path_exists if already occupied.
func (n *Namespace) Insert(path string, id ObjectID) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := []byte(path)
	if _, ok := n.tree.Get(key); ok {
		return kstatus.New(kstatus.PathExists, "%s", path)
	}

	tree, _, _ := n.tree.Insert(key, id)
	n.tree = tree
	return nil
}

// Get returns the object id registered at the exact path.
func (n *Namespace) Get(path string) (ObjectID, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	v, ok := n.tree.Get([]byte(path))
	if !ok {
		return 0, false
	}
	return v.(ObjectID), true
}

// Remove unlinks path from the namespace, if present.
func (n *Namespace) Remove(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tree, _, _ = n.tree.Delete([]byte(path))
}

// resolve walks path through the namespace, following symbolic links
// (resolved via the supplied lookup of an object's symlink target) up to
// MaxSymlinkHops times, and returns the terminal object id.
func (n *Namespace) resolve(path string, readLink func(ObjectID) (string, bool)) (ObjectID, error) {
	cur := ToKernelPath(path)
	hops := 0

	for {
		id, ok := n.Get(cur)
		if !ok {
			return 0, kstatus.New(kstatus.NotFound, "%s", path)
		}

		target, isLink := readLink(id)
		if !isLink {
			return id, nil
		}

		hops++
		if hops > MaxSymlinkHops {
			return 0, kstatus.New(kstatus.SymlinkLoop, "%s", path)
		}

		if strings.HasPrefix(target, `\`) || strings.HasPrefix(target, "/") {
			cur = ToKernelPath(target)
		} else {
			cur = ToKernelPath(parentOf(cur) + `\` + target)
		}
	}
}

func parentOf(kernelPath string) string {
	idx := strings.LastIndex(kernelPath, `\`)
	if idx <= 0 {
		return `\`
	}
	return kernelPath[:idx]
}
