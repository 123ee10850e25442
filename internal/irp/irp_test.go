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

package irp

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkernel/kernel-core/internal/ipc"
	"github.com/mkernel/kernel-core/internal/kstatus"
	"github.com/mkernel/kernel-core/internal/ktypes"
	"github.com/mkernel/kernel-core/internal/ob"
	"github.com/mkernel/kernel-core/internal/sched"
)

// testSpawner adapts *sched.Scheduler's concrete Task signature onto the
// Spawner interface DKMS depends on instead, exactly the bridge
// internal/kernel will supply in the real wiring.
type testSpawner struct{ s *sched.Scheduler }

func (a testSpawner) Spawn(source, name string, ring ktypes.Ring, uid uint32, parentPID PID, task func(h TaskHandle) int) (PID, error) {
	return a.s.Spawn(source, name, ring, uid, parentPID, func(h *sched.TaskHandle) int {
		return task(h)
	})
}

func newTestKernel(t *testing.T) (*sched.Scheduler, *ob.Manager, *DKMS, *PipelineManager) {
	obMgr := ob.NewManager()
	s := sched.New(obMgr)
	go s.Run()
	t.Cleanup(s.Stop)

	ipcMgr := ipc.NewManager(obMgr, s)
	dkms := NewDKMS(obMgr, ipcMgr, s, BootSecurity{})
	pm := NewPipelineManager(dkms, s)
	return s, obMgr, dkms, pm
}

// runEchoDriver services its mailbox forever: driver_init acknowledges
// immediately, and irp_dispatch replies per major function so the PM-side
// tests below have something deterministic to assert on.
func runEchoDriver(t *testing.T, s *sched.Scheduler, dkms *DKMS, h TaskHandle, mailboxes *ipc.MailboxRegistry) {
	for {
		msg, err := mailboxes.WaitMessage(s, h.PID(), time.Second)
		if err != nil {
			return
		}
		switch msg.Name {
		case "driver_init":
			drv := msg.Payload.(*DriverObject)
			assert.NoError(t, dkms.DriverInitComplete(drv.Descriptor.Name))
		case "irp_dispatch":
			req := msg.Payload.(*IRP)
			switch req.MajorFunction {
			case MjCreate, MjClose:
				assert.NoError(t, dkms.CompleteRequest(req.ID, nil, 0, nil))
			case MjWrite:
				assert.NoError(t, dkms.CompleteRequest(req.ID, nil, len(req.Parameters.Data), nil))
			case MjRead:
				assert.NoError(t, dkms.CompleteRequest(req.ID, nil, 5, []byte("hello")))
			case MjDeviceControl:
				out := append([]byte("ack:"), req.Parameters.Data...)
				assert.NoError(t, dkms.CompleteRequest(req.ID, nil, len(out), out))
			}
		}
	}
}

// loadEchoDriver runs DKMS.LoadDriver from inside a spawned loader task —
// LoadDriver parks its caller on the driver's init-complete event via
// ipc.WaitSingle, which (like every Kernel IPC wait) requires a real
// scheduled PID to block, not a bare goroutine.
func loadEchoDriver(t *testing.T, s *sched.Scheduler, dkms *DKMS, name string) PID {
	t.Helper()
	type result struct {
		pid PID
		err error
	}
	ch := make(chan result, 1)

	_, err := s.Spawn("", "loader", ktypes.Ring2, 0, 0, func(h *sched.TaskHandle) int {
		pid, err := dkms.LoadDriver(testSpawner{s}, "", DriverDescriptor{Name: name, Type: KMD}, h.PID(), time.Second,
			func(dh TaskHandle, mailboxes *ipc.MailboxRegistry) { runEchoDriver(t, s, dkms, dh, mailboxes) })
		ch <- result{pid, err}
		return 0
	})
	require.NoError(t, err)

	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.pid
	case <-time.After(time.Second):
		t.Fatal("driver failed to load in time")
		return 0
	}
}

func TestLoadDriverBlocksUntilInitComplete(t *testing.T) {
	s, _, dkms, _ := newTestKernel(t)
	pid := loadEchoDriver(t, s, dkms, "echo0")
	assert.NotZero(t, pid)

	drv, ok := dkms.DriverByName("echo0")
	require.True(t, ok)
	assert.Equal(t, KMD, drv.Descriptor.Type)
	assert.Equal(t, ktypes.Ring2, drv.Ring)
}

func TestCreateDeviceRegistersUnderDosDevicesNamespace(t *testing.T) {
	s, obMgr, dkms, _ := newTestKernel(t)
	loadEchoDriver(t, s, dkms, "echo1")

	dev, err := dkms.CreateDevice("echo1", "echo1dev", MjCreate, MjClose, MjRead, MjWrite, MjDeviceControl)
	require.NoError(t, err)
	assert.Equal(t, "echo1dev", dev.Name)

	h, err := obMgr.LookupObject(`\DosDevices\echo1dev`, nil)
	require.NoError(t, err)
	assert.Equal(t, ob.TypeDevice, h.Type)
	obMgr.Dereference(h)
}

func TestPipelineOpenWriteReadCloseRoundTrip(t *testing.T) {
	s, _, dkms, pm := newTestKernel(t)
	loadEchoDriver(t, s, dkms, "echo2")
	_, err := dkms.CreateDevice("echo2", "echo2dev", MjCreate, MjClose, MjRead, MjWrite, MjDeviceControl)
	require.NoError(t, err)

	type result struct {
		n    int
		data []byte
		err  error
	}
	results := make(chan result, 4)

	pid, err := s.Spawn("", "caller", ktypes.Ring3, 1000, 0, func(h *sched.TaskHandle) int {
		if err := pm.Open(h.PID(), "echo2dev"); err != nil {
			results <- result{err: err}
			return 1
		}
		n, err := pm.Write(h.PID(), "echo2dev", []byte("payload"))
		results <- result{n: n, err: err}

		data, err := pm.Read(h.PID(), "echo2dev", 5)
		results <- result{data: data, err: err}

		out, err := pm.DeviceControl(h.PID(), "echo2dev", 42, []byte("ping"))
		results <- result{data: out, err: err}

		results <- result{err: pm.Close(h.PID(), "echo2dev")}
		return 0
	})
	require.NoError(t, err)
	assert.NotZero(t, pid)

	writeRes := <-results
	require.NoError(t, writeRes.err)
	assert.Equal(t, len("payload"), writeRes.n)

	readRes := <-results
	require.NoError(t, readRes.err)
	assert.Equal(t, []byte("hello"), readRes.data)

	ctlRes := <-results
	require.NoError(t, ctlRes.err)
	assert.Equal(t, []byte("ack:ping"), ctlRes.data)

	closeRes := <-results
	require.NoError(t, closeRes.err)
}

func TestDispatchToUnknownDeviceFails(t *testing.T) {
	s, _, _, pm := newTestKernel(t)
	errCh := make(chan error, 1)
	_, err := s.Spawn("", "caller", ktypes.Ring3, 1000, 0, func(h *sched.TaskHandle) int {
		errCh <- pm.Open(h.PID(), "does-not-exist")
		return 0
	})
	require.NoError(t, err)
	openErr := <-errCh
	require.Error(t, openErr)
	assert.True(t, kstatus.Is(openErr, kstatus.NotFound))
}

func TestDeviceControlAgainstDriverWithoutRegisteredMajorFunctionFails(t *testing.T) {
	s, _, dkms, pm := newTestKernel(t)
	loadEchoDriver(t, s, dkms, "echo3")
	_, err := dkms.CreateDevice("echo3", "echo3dev", MjCreate, MjClose)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	_, err = s.Spawn("", "caller", ktypes.Ring3, 1000, 0, func(h *sched.TaskHandle) int {
		_, werr := pm.DeviceControl(h.PID(), "echo3dev", 42, []byte("x"))
		errCh <- werr
		return 0
	})
	require.NoError(t, err)
	werr := <-errCh
	require.Error(t, werr)
	assert.True(t, kstatus.Is(werr, kstatus.NoDriver))
}

func TestLoadDriverRejectsUnknownType(t *testing.T) {
	s, _, dkms, _ := newTestKernel(t)
	_, err := dkms.LoadDriver(testSpawner{s}, "", DriverDescriptor{Name: "bad", Type: "nope"}, 0, time.Second, nil)
	require.Error(t, err)
	assert.True(t, kstatus.Is(err, kstatus.InvalidArgument))
}

func TestLoadDriverEnforcesSignatureWhenSecureBootActive(t *testing.T) {
	obMgr := ob.NewManager()
	s := sched.New(obMgr)
	go s.Run()
	t.Cleanup(s.Stop)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	ipcMgr := ipc.NewManager(obMgr, s)
	dkms := NewDKMS(obMgr, ipcMgr, s, BootSecurity{Active: true, SignerPubKey: pub})

	_, err = dkms.LoadDriver(testSpawner{s}, "", DriverDescriptor{Name: "unsigned", Type: KMD}, 0, time.Second, nil)
	require.Error(t, err)
	assert.True(t, kstatus.Is(err, kstatus.AccessDenied))

	desc := DriverDescriptor{Name: "signed", Type: KMD, Version: "1.0"}
	desc.Signature = ed25519.Sign(priv, []byte(desc.Name+"|"+desc.Version))

	type result struct {
		pid PID
		err error
	}
	ch := make(chan result, 1)
	_, err = s.Spawn("", "loader", ktypes.Ring2, 0, 0, func(h *sched.TaskHandle) int {
		pid, err := dkms.LoadDriver(testSpawner{s}, "", desc, h.PID(), time.Second,
			func(dh TaskHandle, mailboxes *ipc.MailboxRegistry) { runEchoDriver(t, s, dkms, dh, mailboxes) })
		ch <- result{pid, err}
		return 0
	})
	require.NoError(t, err)

	r := <-ch
	require.NoError(t, r.err)
	assert.NotZero(t, r.pid)
}

func TestCreateSymbolicLinkResolvesOneHop(t *testing.T) {
	s, _, dkms, pm := newTestKernel(t)
	loadEchoDriver(t, s, dkms, "echo4")
	_, err := dkms.CreateDevice("echo4", "echo4dev", MjCreate, MjClose)
	require.NoError(t, err)
	require.NoError(t, dkms.CreateSymbolicLink("echo4alias", "echo4dev"))

	errCh := make(chan error, 1)
	_, err = s.Spawn("", "caller", ktypes.Ring3, 1000, 0, func(h *sched.TaskHandle) int {
		errCh <- pm.Open(h.PID(), "echo4alias")
		return 0
	})
	require.NoError(t, err)
	require.NoError(t, <-errCh)
}
