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
	"container/heap"
	"sync"
	"time"

	"github.com/mkernel/kernel-core/internal/kdomain"
	"github.com/mkernel/kernel-core/internal/kstatus"
)

// mqMessage is one enqueued message plus the bookkeeping mq_receive's
// ordering needs.
type mqMessage struct {
	Priority int
	Seq      uint64
	Payload  []byte
}

// mqHeap orders by (priority_desc, enqueue_seq_asc), exactly as §5
// specifies for message queues.
type mqHeap []mqMessage

func (h mqHeap) Len() int { return len(h) }
func (h mqHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}
func (h mqHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mqHeap) Push(x interface{}) { *h = append(*h, x.(mqMessage)) }
func (h *mqHeap) Pop() interface{} {
	old := *h
	n := len(old)
	m := old[n-1]
	*h = old[:n-1]
	return m
}

// MessageQueueBody backs ke_create_mqueue: a bounded-capacity queue of
// priority-ordered messages, each no larger than maxMessageSize (§4.4).
// Senders blocked on a full queue and receivers blocked on an empty one
// wait on distinct conditions, so — exactly as PipeBody's readable and
// writable queues do — each gets its own DispatcherHeader rather than
// sharing one.
type MessageQueueBody struct {
	mu       sync.Mutex
	msgs     mqHeap
	capacity int
	maxSize  int
	nextSeq  uint64

	notEmpty DispatcherHeader
	notFull  DispatcherHeader
}

// NewMessageQueue constructs an empty queue.
func NewMessageQueue(capacity, maxMessageSize int) *MessageQueueBody {
	return &MessageQueueBody{capacity: capacity, maxSize: maxMessageSize}
}

// Header exposes the not-empty condition, so a message queue can be one
// leg of a wait_single/wait_multiple alongside other dispatcher objects.
func (q *MessageQueueBody) Header() *DispatcherHeader { return &q.notEmpty }

// TryAcquire reports whether a message is available without removing it;
// Receive performs the actual pop once woken.
func (q *MessageQueueBody) TryAcquire(PID) (bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs) > 0, false
}

// Send implements mq_send: rejects an oversized payload, blocks while the
// queue is at capacity, and otherwise inserts the message at its priority
// position before waking the earliest-queued receiver.
func (q *MessageQueueBody) Send(sched kdomain.Scheduler, pid PID, payload []byte, priority int, timeout time.Duration) error {
	if len(payload) > q.maxSize {
		return kstatus.New(kstatus.InvalidArgument, "message exceeds max size %d", q.maxSize)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		q.mu.Lock()
		if len(q.msgs) < q.capacity {
			q.nextSeq++
			heap.Push(&q.msgs, mqMessage{Priority: priority, Seq: q.nextSeq, Payload: payload})
			q.mu.Unlock()
			q.notEmpty.popWaiterAndWake(sched)
			return nil
		}
		q.mu.Unlock()

		q.notFull.enqueue(pid)
		wr, err := sched.Block(pid, "mq_send", deadline)
		q.notFull.dequeue(pid)
		if err != nil {
			return err
		}
		switch wr.Reason {
		case kdomain.WakeTimeout:
			return kstatus.New(kstatus.Timeout, "mq_send")
		case kdomain.WakeKilled:
			return kdomain.ErrNoSuchProcess(pid)
		}
	}
}

// Receive implements mq_receive: blocks on an empty queue and otherwise
// pops the highest-priority, earliest-enqueued message.
func (q *MessageQueueBody) Receive(sched kdomain.Scheduler, pid PID, timeout time.Duration) ([]byte, int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		q.mu.Lock()
		if len(q.msgs) > 0 {
			m := heap.Pop(&q.msgs).(mqMessage)
			q.mu.Unlock()
			q.notFull.popWaiterAndWake(sched)
			return m.Payload, m.Priority, nil
		}
		q.mu.Unlock()

		q.notEmpty.enqueue(pid)
		wr, err := sched.Block(pid, "mq_receive", deadline)
		q.notEmpty.dequeue(pid)
		if err != nil {
			return nil, 0, err
		}
		switch wr.Reason {
		case kdomain.WakeTimeout:
			return nil, 0, kstatus.New(kstatus.Timeout, "mq_receive")
		case kdomain.WakeKilled:
			return nil, 0, kdomain.ErrNoSuchProcess(pid)
		}
	}
}
