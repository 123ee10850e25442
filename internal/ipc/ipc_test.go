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

package ipc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkernel/kernel-core/internal/kstatus"
	"github.com/mkernel/kernel-core/internal/ob"
	"github.com/mkernel/kernel-core/internal/sched"
)

// newTestScheduler spins up a real Scheduler on its own goroutine, exactly
// as internal/sched's own tests do, since Kernel IPC's wait protocol can
// only be exercised by actual task goroutines parking in Scheduler.Block.
func newTestScheduler(t *testing.T) *sched.Scheduler {
	s := sched.New(ob.NewManager())
	go s.Run()
	t.Cleanup(s.Stop)
	return s
}

// spawn starts a task and returns its pid once the scheduler has assigned
// one; the task body runs on its own goroutine as usual.
func spawn(t *testing.T, s *sched.Scheduler, fn func(h *sched.TaskHandle)) sched.PID {
	t.Helper()
	pid, err := s.Spawn("", "task", ob.Ring3, 1000, 0, func(h *sched.TaskHandle) int {
		fn(h)
		return 0
	})
	require.NoError(t, err)
	return pid
}

func TestEventManualResetWakesAllWaiters(t *testing.T) {
	s := newTestScheduler(t)
	ev := NewEvent(true)

	const n = 3
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		spawn(t, s, func(h *sched.TaskHandle) {
			abandoned, err := WaitSingle(s, h.PID(), ev, time.Second)
			assert.NoError(t, err)
			assert.False(t, abandoned)
			done <- struct{}{}
		})
	}

	time.Sleep(20 * time.Millisecond) // let every waiter reach WaitSingle
	ev.Set(s)

	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("manual-reset event did not wake every waiter")
		}
	}
}

func TestEventAutoResetWakesExactlyOne(t *testing.T) {
	s := newTestScheduler(t)
	ev := NewEvent(false)

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		spawn(t, s, func(h *sched.TaskHandle) {
			_, err := WaitSingle(s, h.PID(), ev, time.Second)
			assert.NoError(t, err)
			done <- struct{}{}
		})
	}

	time.Sleep(20 * time.Millisecond)
	ev.Set(s)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("auto-reset event never woke its one waiter")
	}
	select {
	case <-done:
		t.Fatal("auto-reset event woke a second waiter")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventPulseNoWaitersIsNoop(t *testing.T) {
	ev := NewEvent(true)
	ev.Pulse(nil) // must not panic even with a nil scheduler when there are no waiters
	ok, _ := ev.TryAcquire(0)
	assert.False(t, ok)
}

func TestMutexRecursiveAcquireAndRelease(t *testing.T) {
	s := newTestScheduler(t)
	mx := NewMutex()

	done := make(chan error, 1)
	spawn(t, s, func(h *sched.TaskHandle) {
		_, err := WaitSingle(s, h.PID(), mx, time.Second)
		if err != nil {
			done <- err
			return
		}
		_, err = WaitSingle(s, h.PID(), mx, time.Second) // recursive re-entry
		if err != nil {
			done <- err
			return
		}
		if err := mx.Release(s, h.PID()); err != nil { // still held once
			done <- err
			return
		}
		if mx.owner == 0 {
			done <- kstatus.New(kstatus.InvalidArgument, "released too early")
			return
		}
		done <- mx.Release(s, h.PID())
	})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("recursive mutex acquire/release never completed")
	}
}

func TestMutexFIFOHandoffAndAbandonment(t *testing.T) {
	s := newTestScheduler(t)
	mx := NewMutex()

	holder := spawn(t, s, func(h *sched.TaskHandle) {
		_, err := WaitSingle(s, h.PID(), mx, time.Second)
		assert.NoError(t, err)
		// Deliberately never releases: simulates the owner dying while
		// still holding the mutex.
		<-make(chan struct{})
	})

	waiterAbandoned := make(chan bool, 1)
	spawn(t, s, func(h *sched.TaskHandle) {
		abandoned, err := WaitSingle(s, h.PID(), mx, time.Second)
		assert.NoError(t, err)
		waiterAbandoned <- abandoned
	})

	time.Sleep(20 * time.Millisecond) // let the waiter enqueue behind the holder
	mx.AbandonIfOwnedBy(s, holder)

	select {
	case abandoned := <-waiterAbandoned:
		assert.True(t, abandoned, "waiter should observe the abandoned flag")
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the abandoned mutex")
	}
}

func TestSemaphoreSaturatingRelease(t *testing.T) {
	sem := NewSemaphore(0, 2)
	require.NoError(t, sem.Release(nil, 5)) // clamps to max rather than overflowing
	sem.mu.Lock()
	count := sem.count
	sem.mu.Unlock()
	assert.Equal(t, 2, count)
}

func TestSemaphoreWaitersWokenUpToPermitsReleased(t *testing.T) {
	s := newTestScheduler(t)
	sem := NewSemaphore(0, 3)

	acquired := make(chan int, 3)
	for i := 0; i < 3; i++ {
		spawn(t, s, func(h *sched.TaskHandle) {
			_, err := WaitSingle(s, h.PID(), sem, time.Second)
			assert.NoError(t, err)
			acquired <- 1
		})
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sem.Release(s, 2))

	for i := 0; i < 2; i++ {
		select {
		case <-acquired:
		case <-time.After(time.Second):
			t.Fatal("releasing 2 permits should wake 2 waiters")
		}
	}
	select {
	case <-acquired:
		t.Fatal("a third waiter woke despite only 2 permits released")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimerOneShotFiresOnce(t *testing.T) {
	s := newTestScheduler(t)
	tm := NewTimer(false)
	tm.Start(s, 10*time.Millisecond, 0)

	done := make(chan error, 1)
	spawn(t, s, func(h *sched.TaskHandle) {
		_, err := WaitSingle(s, h.PID(), tm, time.Second)
		done <- err
	})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("one-shot timer never fired")
	}
}

func TestTimerStopPreventsFurtherFirings(t *testing.T) {
	s := newTestScheduler(t)
	tm := NewTimer(true)
	tm.Start(s, 5*time.Millisecond, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	tm.Stop()
	time.Sleep(30 * time.Millisecond)

	ok, _ := tm.TryAcquire(0)
	assert.False(t, ok, "a stopped timer must not keep signaling")
}

func TestPipeReadWriteAndEOF(t *testing.T) {
	s := newTestScheduler(t)
	p := NewPipe(4)

	writerPID := spawn(t, s, func(h *sched.TaskHandle) {
		n, err := p.Write(s, h.PID(), []byte("hello"))
		assert.NoError(t, err)
		assert.Equal(t, 5, n)
		p.CloseWrite(s)
	})
	_ = writerPID

	readDone := make(chan []byte, 1)
	spawn(t, s, func(h *sched.TaskHandle) {
		var out []byte
		buf := make([]byte, 8)
		for {
			n, err := p.Read(s, h.PID(), buf, time.Second)
			require.NoError(t, err)
			if n == 0 {
				break
			}
			out = append(out, buf[:n]...)
		}
		readDone <- out
	})

	select {
	case out := <-readDone:
		assert.Equal(t, "hello", string(out))
	case <-time.After(time.Second):
		t.Fatal("reader never observed EOF after the writer closed")
	}
}

func TestPipeWriteAfterReadCloseDeliversSIGPIPE(t *testing.T) {
	s := newTestScheduler(t)
	p := NewPipe(4)
	p.CloseRead(s)

	result := make(chan error, 1)
	spawn(t, s, func(h *sched.TaskHandle) {
		_, err := p.Write(s, h.PID(), []byte("x"))
		result <- err
	})

	select {
	case err := <-result:
		assert.True(t, kstatus.Is(err, kstatus.PipeClosed))
	case <-time.After(time.Second):
		t.Fatal("write past a closed read end should fail rather than block")
	}
}

func TestMessageQueuePriorityOrdering(t *testing.T) {
	s := newTestScheduler(t)
	q := NewMessageQueue(10, 64)

	require.NoError(t, q.Send(s, 0, []byte("low"), 1, time.Second))
	require.NoError(t, q.Send(s, 0, []byte("high"), 5, time.Second))
	require.NoError(t, q.Send(s, 0, []byte("mid"), 3, time.Second))

	payload, prio, err := q.Receive(s, 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "high", string(payload))
	assert.Equal(t, 5, prio)

	payload, prio, err = q.Receive(s, 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "mid", string(payload))
	assert.Equal(t, 3, prio)

	payload, _, err = q.Receive(s, 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "low", string(payload))
}

func TestMessageQueueSendOversizedRejected(t *testing.T) {
	q := NewMessageQueue(10, 4)
	err := q.Send(nil, 0, []byte("too long"), 0, time.Second)
	assert.True(t, kstatus.Is(err, kstatus.InvalidArgument))
}

func TestMessageQueueFullBlocksSenderUntilReceiveFreesRoom(t *testing.T) {
	s := newTestScheduler(t)
	q := NewMessageQueue(1, 64)
	require.NoError(t, q.Send(s, 0, []byte("first"), 0, time.Second))

	sendDone := make(chan error, 1)
	spawn(t, s, func(h *sched.TaskHandle) {
		sendDone <- q.Send(s, h.PID(), []byte("second"), 0, time.Second)
	})

	select {
	case <-sendDone:
		t.Fatal("send on a full queue should have blocked")
	case <-time.After(30 * time.Millisecond):
	}

	_, _, err := q.Receive(s, 0, time.Second)
	require.NoError(t, err)

	select {
	case err := <-sendDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("send never unblocked after room was freed")
	}
}

func TestWaitMultipleWaitAnyReturnsFirstReady(t *testing.T) {
	s := newTestScheduler(t)
	ev0 := NewEvent(true)
	ev1 := NewEvent(true)
	ev1.Set(s)

	idx, err := WaitMultiple(s, 0, []Waitable{ev0, ev1}, false, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestWaitMultipleWaitAllIsAtomic(t *testing.T) {
	s := newTestScheduler(t)
	mxA := NewMutex()
	mxB := NewMutex()

	otherPID := spawn(t, s, func(h *sched.TaskHandle) {
		_, err := WaitSingle(s, h.PID(), mxB, time.Second)
		assert.NoError(t, err)
		<-make(chan struct{}) // hold mxB forever so wait_all below cannot succeed yet
	})
	_ = otherPID
	time.Sleep(20 * time.Millisecond)

	waitAllDone := make(chan error, 1)
	spawn(t, s, func(h *sched.TaskHandle) {
		_, err := WaitMultiple(s, h.PID(), []Waitable{mxA, mxB}, true, 50*time.Millisecond)
		waitAllDone <- err
	})

	select {
	case err := <-waitAllDone:
		assert.True(t, kstatus.Is(err, kstatus.Timeout))
	case <-time.After(time.Second):
		t.Fatal("wait_all should have timed out rather than partially acquiring mxA")
	}

	// mxA must have been rolled back: a fresh acquire must succeed immediately.
	ok, _ := mxA.TryAcquire(999)
	assert.True(t, ok, "wait_all's failed attempt must roll back the mutex it did acquire")
}

func TestManagerCreateMutexGrantsHandle(t *testing.T) {
	obMgr := ob.NewManager()
	s := sched.New(obMgr)
	go s.Run()
	t.Cleanup(s.Stop)

	mgr := NewManager(obMgr, s)

	pid, err := s.Spawn("", "proc", ob.Ring3, 1000, 0, func(h *sched.TaskHandle) int {
		return 0
	})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	tok, errTok := obMgr.SynapseToken(pid)
	require.True(t, errTok)

	caller := ob.CallerInfo{PID: pid, Ring: ob.Ring3, Token: tok}
	_, handleTok, err := mgr.CreateMutex(caller, "", ob.SecurityDescriptor{Mode: 0600})
	require.NoError(t, err)
	assert.NotEmpty(t, handleTok)
}

func TestMailboxSignalSendWakesWaitMessage(t *testing.T) {
	s := newTestScheduler(t)
	reg := newMailboxRegistry()

	result := make(chan NamedMessage, 1)
	pid := spawn(t, s, func(h *sched.TaskHandle) {
		msg, err := reg.WaitMessage(s, h.PID(), time.Second)
		assert.NoError(t, err)
		result <- msg
	})

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, reg.SignalSend(s, pid, "irp_dispatch", "payload"))

	select {
	case msg := <-result:
		assert.Equal(t, "irp_dispatch", msg.Name)
		assert.Equal(t, "payload", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("SignalSend never woke the waiting mailbox reader")
	}
}

func TestMailboxPullMessageNonBlocking(t *testing.T) {
	reg := newMailboxRegistry()
	_, ok := reg.PullMessage(1)
	assert.False(t, ok)
}
