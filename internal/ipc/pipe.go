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
	"sync"
	"time"

	"github.com/mkernel/kernel-core/internal/kdomain"
	"github.com/mkernel/kernel-core/internal/kstatus"
)

// SIGPIPE is delivered to a writer that writes to a pipe whose read end
// has already been closed (§3).
const SIGPIPE = 13

// PipeBody backs ke_create_pipe: a fixed-size ring buffer with
// independent read and write halves. It is not itself a Waitable — its
// readable and writable conditions are distinct, so Read and Write each
// drive their own wait loop through a dedicated DispatcherHeader rather
// than sharing the single acquire/wake protocol WaitSingle assumes.
type PipeBody struct {
	mu          sync.Mutex
	buf         []byte
	readPos     int
	count       int
	writeClosed bool
	readClosed  bool

	readable *DispatcherHeader
	writable *DispatcherHeader
}

// NewPipe constructs a pipe with the given ring-buffer capacity.
func NewPipe(capacity int) *PipeBody {
	return &PipeBody{
		buf:      make([]byte, capacity),
		readable: &DispatcherHeader{},
		writable: &DispatcherHeader{},
	}
}

// Read implements vfs_read on a pipe handle: blocks while the buffer is
// empty and the write end is still open; once the write end is closed,
// drains whatever remains and then returns 0 bytes with no error (EOF),
// per §3's "subsequent reads return EOF after draining".
func (p *PipeBody) Read(sched kdomain.Scheduler, pid PID, out []byte, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		p.mu.Lock()
		if p.count > 0 {
			n := len(out)
			if n > p.count {
				n = p.count
			}
			for i := 0; i < n; i++ {
				out[i] = p.buf[(p.readPos+i)%len(p.buf)]
			}
			p.readPos = (p.readPos + n) % len(p.buf)
			p.count -= n
			p.mu.Unlock()
			p.writable.popWaiterAndWake(sched)
			return n, nil
		}
		if p.writeClosed {
			p.mu.Unlock()
			return 0, nil
		}
		p.mu.Unlock()

		p.readable.enqueue(pid)
		wr, err := sched.Block(pid, "pipe_read", deadline)
		p.readable.dequeue(pid)
		if err != nil {
			return 0, err
		}
		switch wr.Reason {
		case kdomain.WakeTimeout:
			return 0, kstatus.New(kstatus.Timeout, "pipe_read")
		case kdomain.WakeKilled:
			return 0, kdomain.ErrNoSuchProcess(pid)
		}
	}
}

// Write implements vfs_write on a pipe handle: blocks while the buffer is
// full and the read end is still open; writing after the read end has
// closed delivers SIGPIPE to the writer and fails with pipe_closed
// instead of blocking (§3).
func (p *PipeBody) Write(sched kdomain.Scheduler, pid PID, data []byte) (int, error) {
	written := 0
	for written < len(data) {
		p.mu.Lock()
		if p.readClosed {
			p.mu.Unlock()
			_ = sched.DeliverSignal(pid, SIGPIPE)
			return written, kstatus.New(kstatus.PipeClosed, "write after read end closed")
		}
		free := len(p.buf) - p.count
		if free > 0 {
			n := len(data) - written
			if n > free {
				n = free
			}
			writePos := (p.readPos + p.count) % len(p.buf)
			for i := 0; i < n; i++ {
				p.buf[(writePos+i)%len(p.buf)] = data[written+i]
			}
			p.count += n
			written += n
			p.mu.Unlock()
			p.readable.popWaiterAndWake(sched)
			continue
		}
		p.mu.Unlock()

		p.writable.enqueue(pid)
		wr, err := sched.Block(pid, "pipe_write", time.Time{})
		p.writable.dequeue(pid)
		if err != nil {
			return written, err
		}
		if wr.Reason == kdomain.WakeKilled {
			return written, kdomain.ErrNoSuchProcess(pid)
		}
	}
	return written, nil
}

// CloseWrite half-closes the write end: pending and future reads drain
// the buffer and then see EOF.
func (p *PipeBody) CloseWrite(sched kdomain.Scheduler) {
	p.mu.Lock()
	p.writeClosed = true
	p.mu.Unlock()
	for {
		pid, ok := p.readable.popWaiter()
		if !ok {
			return
		}
		sched.Wake(pid, false)
	}
}

// CloseRead half-closes the read end: any writer blocked on a full buffer
// is woken to observe pipe_closed/SIGPIPE on its next write attempt.
func (p *PipeBody) CloseRead(sched kdomain.Scheduler) {
	p.mu.Lock()
	p.readClosed = true
	p.mu.Unlock()
	for {
		pid, ok := p.writable.popWaiter()
		if !ok {
			return
		}
		sched.Wake(pid, false)
	}
}

func (d *DispatcherHeader) popWaiterAndWake(sched kdomain.Scheduler) {
	if pid, ok := d.popWaiter(); ok {
		sched.Wake(pid, false)
	}
}
