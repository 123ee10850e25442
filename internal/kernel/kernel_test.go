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

package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkernel/kernel-core/internal/ktypes"
	"github.com/mkernel/kernel-core/internal/sched"
)

func TestBootAssemblesDispatchableSyscallTable(t *testing.T) {
	k := Boot(map[string]interface{}{
		"boot_args": map[string]interface{}{"log_level": "warning"},
	})
	t.Cleanup(k.Shutdown)

	done := make(chan struct{})
	_, err := k.Sched.Spawn("", "init", ktypes.Ring3, 0, 0, func(h *sched.TaskHandle) int {
		defer close(done)

		tok, err := k.Syscalls.Dispatch(h, "ke_create_event", []interface{}{false})
		require.NoError(t, err)
		assert.NotEmpty(t, tok)

		pid, err := k.Syscalls.Dispatch(h, "process_get_pid", nil)
		require.NoError(t, err)
		assert.Equal(t, int(h.PID()), pid)

		return 0
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("init task did not complete in time")
	}
}

func TestBootWithSecureBootInactiveAcceptsSpawnerDrivenDriverLoad(t *testing.T) {
	k := Boot(nil)
	t.Cleanup(k.Shutdown)

	assert.False(t, k.Boot.SecureBootActive())
	assert.NotNil(t, k.Spawner())
}
