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

package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkernel/kernel-core/internal/instrument"
	"github.com/mkernel/kernel-core/internal/ob"
)

func newTestScheduler(t *testing.T) *Scheduler {
	s := New(ob.NewManager())
	go s.Run()
	t.Cleanup(s.Stop)
	return s
}

func TestSpawnRunsAndExits(t *testing.T) {
	s := newTestScheduler(t)

	pid, err := s.Spawn("", "init", ob.Ring3, 1000, 0, func(h *TaskHandle) int {
		return 42
	})
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p, ok := s.Lookup(pid); !ok || p.Status == StatusDead {
			break
		}
		time.Sleep(time.Millisecond)
	}

	p, ok := s.Lookup(pid)
	if ok {
		assert.Equal(t, StatusDead, p.Status)
		assert.Equal(t, 42, p.ExitCode)
	}
}

func TestWaitReturnsExitCodeThenNotFound(t *testing.T) {
	s := newTestScheduler(t)

	gate := make(chan struct{})
	childPID, err := s.Spawn("", "child", ob.Ring3, 1000, 0, func(h *TaskHandle) int {
		<-gate
		return 7
	})
	require.NoError(t, err)

	type waitResult struct {
		code int
		err  error
	}
	first := make(chan waitResult, 1)
	second := make(chan waitResult, 1)

	_, err = s.Spawn("", "parent", ob.Ring3, 1000, 0, func(h *TaskHandle) int {
		code, werr := s.Wait(h, childPID)
		first <- waitResult{code, werr}
		code2, werr2 := s.Wait(h, childPID)
		second <- waitResult{code2, werr2}
		return 0
	})
	require.NoError(t, err)

	// the child keeps its turn until gate closes, so the parent's first
	// Wait runs only after the child has exited and finds it as a zombie.
	time.Sleep(20 * time.Millisecond)
	close(gate)

	select {
	case r := <-first:
		require.NoError(t, r.err)
		assert.Equal(t, 7, r.code)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first wait() to resolve")
	}

	select {
	case r := <-second:
		assert.Error(t, r.err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second wait() to resolve")
	}
}

func TestCheckpointPreemptsAfterQuantum(t *testing.T) {
	s := newTestScheduler(t)

	ranToCompletion := make(chan struct{})
	pid, err := s.Spawn("", "busy", ob.Ring3, 1000, 0, func(h *TaskHandle) int {
		// Sleeping past the quantum before reaching CheckInterval
		// guarantees the next checkpoint observes an overrun and
		// cooperatively yields at least once.
		time.Sleep(2 * instrument.Quantum)
		for i := 0; i < instrument.CheckInterval; i++ {
			h.Checkpoint()
		}
		close(ranToCompletion)
		return 0
	})
	require.NoError(t, err)

	select {
	case <-ranToCompletion:
	case <-time.After(2 * time.Second):
		t.Fatal("busy task never completed")
	}

	p, ok := s.Lookup(pid)
	if ok {
		assert.GreaterOrEqual(t, p.Stats.PreemptCount, 1)
	}
}

func TestWatchdogTerminatesAfterStrikes(t *testing.T) {
	s := newTestScheduler(t)

	oldInterval, oldStrikes := WatchdogInterval, MaxWatchdogStrikes
	WatchdogInterval = 10 * time.Millisecond
	MaxWatchdogStrikes = 2
	defer func() { WatchdogInterval, MaxWatchdogStrikes = oldInterval, oldStrikes }()

	block := make(chan struct{})
	pid, err := s.Spawn("", "stuck", ob.Ring2, 1000, 0, func(h *TaskHandle) int {
		<-block // never reaches a checkpoint; only the watchdog can end this
		return 0
	})
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	dead := false
	for time.Now().Before(deadline) {
		if p, ok := s.Lookup(pid); !ok || p.Status == StatusDead {
			dead = true
			break
		}
		time.Sleep(time.Millisecond)
	}

	assert.True(t, dead, "watchdog should have forced the stuck process to exit")
}

func TestElevateRotatesSynapseToken(t *testing.T) {
	s := newTestScheduler(t)

	gate := make(chan struct{})
	pid, err := s.Spawn("", "proc", ob.Ring3, 1000, 0, func(h *TaskHandle) int {
		<-gate
		return 0
	})
	require.NoError(t, err)
	defer close(gate)

	before, ok := s.GetSynapseToken(pid)
	require.True(t, ok)

	after, err := s.Elevate(pid)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

