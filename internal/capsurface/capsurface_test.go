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

package capsurface

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mkernel/kernel-core/internal/ktypes"
)

func TestGrantExposesToAtLeastAsPrivilegedRings(t *testing.T) {
	tbl := New()
	tbl.Grant(ktypes.Ring2, "dk_create_device")

	assert.NoError(t, tbl.Check(ktypes.Ring0, "dk_create_device"))
	assert.NoError(t, tbl.Check(ktypes.Ring2, "dk_create_device"))
	assert.Error(t, tbl.Check(ktypes.Ring3, "dk_create_device"))
}

func TestDefaultSurfaceHidesDriverSyscallsFromRing3(t *testing.T) {
	tbl := DefaultSurface()

	assert.Error(t, tbl.Check(ktypes.Ring3, "dk_create_device"))
	assert.NoError(t, tbl.Check(ktypes.Ring2, "dk_create_device"))
	assert.NoError(t, tbl.Check(ktypes.Ring3, "ke_wait_single"))
}

func TestCheckUnknownSyscallIsDenied(t *testing.T) {
	tbl := DefaultSurface()
	assert.Error(t, tbl.Check(ktypes.Ring3, "not_a_real_syscall"))
}
