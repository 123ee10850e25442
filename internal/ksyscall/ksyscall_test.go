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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkernel/kernel-core/internal/capsurface"
	"github.com/mkernel/kernel-core/internal/ipc"
	"github.com/mkernel/kernel-core/internal/irp"
	"github.com/mkernel/kernel-core/internal/kstatus"
	"github.com/mkernel/kernel-core/internal/ktypes"
	"github.com/mkernel/kernel-core/internal/ob"
	"github.com/mkernel/kernel-core/internal/sched"
)

func newTestTable(t *testing.T) (*sched.Scheduler, *Table) {
	obMgr := ob.NewManager()
	s := sched.New(obMgr)
	go s.Run()
	t.Cleanup(s.Stop)

	ipcMgr := ipc.NewManager(obMgr, s)
	dkms := irp.NewDKMS(obMgr, ipcMgr, s, irp.BootSecurity{})
	pm := irp.NewPipelineManager(dkms, s)
	surface := capsurface.DefaultSurface()
	return s, New(s, obMgr, ipcMgr, dkms, pm, surface)
}

// dispatchFrom spawns a task at ring and runs fn(h) to completion, so
// Dispatch's blocking handlers (ke_wait_single and the like) have a real
// scheduled PID to park on rather than a bare goroutine.
func dispatchFrom(t *testing.T, s *sched.Scheduler, ring ktypes.Ring, fn func(h *sched.TaskHandle)) {
	t.Helper()
	done := make(chan struct{})
	_, err := s.Spawn("", "caller", ring, 1000, 0, func(h *sched.TaskHandle) int {
		fn(h)
		close(done)
		return 0
	})
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not complete in time")
	}
}

func TestDispatchUnknownSyscallNotFound(t *testing.T) {
	s, tbl := newTestTable(t)
	dispatchFrom(t, s, ktypes.Ring3, func(h *sched.TaskHandle) {
		_, err := tbl.Dispatch(h, "not_a_real_syscall", nil)
		require.Error(t, err)
		assert.True(t, kstatus.Is(err, kstatus.NotFound))
	})
}

func TestDispatchDeniesSyscallOutsideCallerRingSurface(t *testing.T) {
	s, tbl := newTestTable(t)
	dispatchFrom(t, s, ktypes.Ring3, func(h *sched.TaskHandle) {
		_, err := tbl.Dispatch(h, "dk_create_device", []interface{}{"drv", "dev", []byte{}})
		require.Error(t, err)
		assert.True(t, kstatus.Is(err, kstatus.AccessDenied))
	})
}

func TestProcessGetPidAndRingRoundTrip(t *testing.T) {
	s, tbl := newTestTable(t)
	dispatchFrom(t, s, ktypes.Ring3, func(h *sched.TaskHandle) {
		pid, err := tbl.Dispatch(h, "process_get_pid", nil)
		require.NoError(t, err)
		assert.Equal(t, int(h.PID()), pid)

		ring, err := tbl.Dispatch(h, "process_get_ring", []interface{}{int(h.PID())})
		require.NoError(t, err)
		assert.Equal(t, ktypes.Ring3, ring)
	})
}

func TestObCreateLookupCloseHandleRoundTrip(t *testing.T) {
	s, tbl := newTestTable(t)
	dispatchFrom(t, s, ktypes.Ring2, func(h *sched.TaskHandle) {
		_, err := tbl.Dispatch(h, "ob_create_object", []interface{}{`\test\dir`, 0700})
		require.NoError(t, err)

		tok, err := tbl.Dispatch(h, "ob_open_handle", []interface{}{`\test\dir`, int(ob.R_OK)})
		require.NoError(t, err)
		require.NotEmpty(t, tok)

		id, err := tbl.Dispatch(h, "ob_reference_by_handle", []interface{}{tok, int(ob.R_OK)})
		require.NoError(t, err)
		assert.NotZero(t, id)

		_, err = tbl.Dispatch(h, "ob_close_handle", []interface{}{tok})
		require.NoError(t, err)
	})
}

func TestKeEventSetWaitRoundTrip(t *testing.T) {
	s, tbl := newTestTable(t)
	dispatchFrom(t, s, ktypes.Ring3, func(h *sched.TaskHandle) {
		tok, err := tbl.Dispatch(h, "ke_create_event", []interface{}{false})
		require.NoError(t, err)
		token := tok.(string)

		_, err = tbl.Dispatch(h, "ke_set_event", []interface{}{token})
		require.NoError(t, err)

		abandoned, err := tbl.Dispatch(h, "ke_wait_single", []interface{}{token, time.Second})
		require.NoError(t, err)
		assert.Equal(t, false, abandoned)
	})
}

func TestKeMutexReleaseTracksOwnership(t *testing.T) {
	s, tbl := newTestTable(t)
	dispatchFrom(t, s, ktypes.Ring3, func(h *sched.TaskHandle) {
		tok, err := tbl.Dispatch(h, "ke_create_mutex", nil)
		require.NoError(t, err)
		token := tok.(string)

		_, err = tbl.Dispatch(h, "ke_wait_single", []interface{}{token, time.Second})
		require.NoError(t, err)

		_, err = tbl.Dispatch(h, "ke_release_mutex", []interface{}{token})
		require.NoError(t, err)
	})
}

func TestSignalPullReturnsNilWhenNothingPending(t *testing.T) {
	s, tbl := newTestTable(t)
	dispatchFrom(t, s, ktypes.Ring3, func(h *sched.TaskHandle) {
		sig, err := tbl.Dispatch(h, "signal_pull", nil)
		require.NoError(t, err)
		assert.Nil(t, sig)
	})
}

// signal_send's own Dispatch call reaches sched.DeliverSignal directly,
// observable straight from the scheduler without going through another
// Dispatch call — Enter's own boundary delivery on the very next syscall
// would otherwise fire and clear an unmasked signal before any signal_pull
// handler got to inspect it, so this checks the wiring at the point it is
// actually observable.
func TestSignalSendReachesScheduler(t *testing.T) {
	s, tbl := newTestTable(t)
	dispatchFrom(t, s, ktypes.Ring3, func(h *sched.TaskHandle) {
		_, err := tbl.Dispatch(h, "signal_mask", []interface{}{10, true})
		require.NoError(t, err)

		_, err = tbl.Dispatch(h, "signal_send", []interface{}{int(h.PID()), 10})
		require.NoError(t, err)

		_, err = tbl.Dispatch(h, "signal_mask", []interface{}{10, false})
		require.NoError(t, err)

		sig, pending := s.PullSignal(h.PID())
		assert.True(t, pending)
		assert.Equal(t, 10, sig)
	})
}

func TestDkRegisterInterruptUnknownDriverNotFound(t *testing.T) {
	s, tbl := newTestTable(t)
	dispatchFrom(t, s, ktypes.Ring2, func(h *sched.TaskHandle) {
		_, err := tbl.Dispatch(h, "dk_register_interrupt", []interface{}{1, "no-such-driver"})
		require.Error(t, err)
		assert.True(t, kstatus.Is(err, kstatus.NotFound))
	})
}

func TestKernelSetLogModeAcceptsKnownLevel(t *testing.T) {
	s, tbl := newTestTable(t)
	dispatchFrom(t, s, ktypes.Ring2, func(h *sched.TaskHandle) {
		_, err := tbl.Dispatch(h, "kernel_set_log_mode", []interface{}{"warn"})
		require.NoError(t, err)

		_, err = tbl.Dispatch(h, "kernel_set_log_mode", []interface{}{"not-a-level"})
		require.Error(t, err)
		assert.True(t, kstatus.Is(err, kstatus.InvalidArgument))
	})
}
