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

// Package ob implements the kernel's Object Manager: typed object headers
// kept in a central arena, a hierarchical `\`-rooted namespace, per-process
// handle tables, and synapse-token authenticated handle access.
package ob

import (
	"github.com/mkernel/kernel-core/internal/ktypes"
)

type (
	PID        = ktypes.PID
	ObjectID   = ktypes.ObjectID
	Ring       = ktypes.Ring
	AccessMode = ktypes.AccessMode
)

const (
	Ring0   = ktypes.Ring0
	Ring1   = ktypes.Ring1
	Ring2   = ktypes.Ring2
	Ring2_5 = ktypes.Ring2_5
	Ring3   = ktypes.Ring3
	X_OK    = ktypes.XAccess
	W_OK    = ktypes.WAccess
	R_OK    = ktypes.RAccess
)

// Type is the fixed set of kernel object types from the data model.
type Type int

const (
	TypeDirectory Type = iota
	TypeSymlink
	TypeDevice
	TypeFile
	TypeDriver
	TypeEvent
	TypeMutex
	TypeSemaphore
	TypeTimer
	TypePipe
	TypeSection
	TypeMessageQueue
)

func (t Type) String() string {
	switch t {
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symbolic-link"
	case TypeDevice:
		return "device"
	case TypeFile:
		return "file"
	case TypeDriver:
		return "driver"
	case TypeEvent:
		return "event"
	case TypeMutex:
		return "mutex"
	case TypeSemaphore:
		return "semaphore"
	case TypeTimer:
		return "timer"
	case TypePipe:
		return "pipe"
	case TypeSection:
		return "section"
	case TypeMessageQueue:
		return "message queue"
	default:
		return "unknown"
	}
}

// SecurityDescriptor is the access-control triad attached to every object.
type SecurityDescriptor struct {
	OwnerUID     uint32
	GroupGID     uint32
	Mode         uint32 // rwxrwxrwx, as in checkPerm
	RequiredRing Ring
	HasRingReq   bool
}

// Header is the object header from the data model: every field every
// kernel resource carries, regardless of type. Body holds the type-specific
// payload (a *Directory, *Symlink, or a subsystem-owned struct for the IPC
// and IRP object types).
type Header struct {
	ID            ObjectID
	Type          Type
	Path          string // "" if unnamed
	RefCount      int
	HandleCount   int
	Security      SecurityDescriptor
	Permanent     bool
	DeletePending bool
	Body          interface{}
}

// Directory is the body of a TypeDirectory object; it has no state beyond
// its presence in the namespace tree, which is owned by Namespace.
type Directory struct{}

// Symlink is the body of a TypeSymlink object.
type Symlink struct {
	Target string
}
