// Copyright 2021-2024 EMQ Technologies Co., Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package channel implements the bounded conduit between two tasks.
// Entries are records or barriers, kept in a ring buffer in production order.
package channel

import (
	"context"
	"sync"

	"github.com/lf-edge/barrierflow/internal/topo/checkpoint"
	"github.com/lf-edge/barrierflow/pkg/api"
	"github.com/lf-edge/barrierflow/pkg/errorx"
)

// Entry holds exactly one of Record and Barrier. Seq is absolute in the channel and starts from 1.
type Entry struct {
	Seq     uint64
	Record  *api.Record
	Barrier *checkpoint.Barrier
}

func (e *Entry) IsBarrier() bool {
	return e.Barrier != nil
}

// Channel has exactly one producer and one consumer.
// The producer blocks in Push when capacity entries are buffered.
type Channel struct {
	name     string
	capacity int

	mu     sync.Mutex
	buf    []Entry
	head   uint64 // seq of the oldest buffered entry
	next   uint64 // seq of the next pushed entry
	length int
	maxLen int
	closed bool
	// seqs of the buffered barriers in order
	barriers []uint64

	slots  chan struct{}
	done   chan struct{}
	notify chan<- struct{}
}

// New creates a channel. The consumer passes its wake-up chan as notify, it receives a token for each push or close.
// It must be buffered so that a token is kept while the consumer is busy.
func New(name string, capacity int, notify chan<- struct{}) *Channel {
	if capacity <= 0 {
		capacity = 1
	}
	return &Channel{
		name:     name,
		capacity: capacity,
		buf:      make([]Entry, capacity),
		head:     1,
		next:     1,
		slots:    make(chan struct{}, capacity),
		done:     make(chan struct{}),
		notify:   notify,
	}
}

func (c *Channel) GetName() string {
	return c.name
}

func (c *Channel) Cap() int {
	return c.capacity
}

func (c *Channel) PushRecord(ctx context.Context, r *api.Record) error {
	return c.push(ctx, Entry{Record: r})
}

func (c *Channel) PushBarrier(ctx context.Context, b *checkpoint.Barrier) error {
	return c.push(ctx, Entry{Barrier: b})
}

func (c *Channel) push(ctx context.Context, e Entry) error {
	select {
	case <-c.done:
		return errorx.NewChannelClosed(c.name)
	default:
	}
	select {
	case c.slots <- struct{}{}:
	case <-c.done:
		return errorx.NewChannelClosed(c.name)
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errorx.NewChannelClosed(c.name)
	}
	e.Seq = c.next
	c.buf[(c.next-1)%uint64(c.capacity)] = e
	if e.Barrier != nil {
		c.barriers = append(c.barriers, e.Seq)
	}
	c.next++
	c.length++
	if c.length > c.maxLen {
		c.maxLen = c.length
	}
	c.mu.Unlock()
	c.wakeup()
	return nil
}

// Poll takes the oldest entry without blocking.
// When nothing is buffered, closed tells whether the producer has closed the channel.
func (c *Channel) Poll() (e Entry, ok bool, closed bool) {
	c.mu.Lock()
	if c.length == 0 {
		closed = c.closed
		c.mu.Unlock()
		return Entry{}, false, closed
	}
	i := (c.head - 1) % uint64(c.capacity)
	e = c.buf[i]
	c.buf[i] = Entry{}
	if len(c.barriers) > 0 && c.barriers[0] == e.Seq {
		c.barriers = c.barriers[1:]
	}
	c.head++
	c.length--
	c.mu.Unlock()
	<-c.slots
	return e, true, false
}

// PeekBarrier returns the first buffered barrier with a seq greater than after without removing it
func (c *Channel) PeekBarrier(after uint64) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, seq := range c.barriers {
		if seq > after {
			return c.buf[(seq-1)%uint64(c.capacity)], true
		}
	}
	return Entry{}, false
}

// InFlight returns the references of the buffered records after seq and ahead of barrier(checkpointId).
// If the barrier is not buffered yet, all buffered records after seq are returned.
// The returned seq is the last entry scanned, so the caller can skip them when drained later.
func (c *Channel) InFlight(checkpointId int64, after uint64) ([]*api.Record, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []*api.Record
	last := c.head - 1
	if after > last {
		last = after
	}
	for seq := last + 1; seq < c.next; seq++ {
		e := c.buf[(seq-1)%uint64(c.capacity)]
		if e.Barrier != nil {
			if e.Barrier.CheckpointId == checkpointId {
				return result, last, true
			}
		} else {
			result = append(result, e.Record)
		}
		last = seq
	}
	return result, last, false
}

// Close is called by the producer when it finishes or by the topology on teardown.
// Buffered entries can still be polled. Blocked producers are released.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	c.wakeup()
}

func (c *Channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.length
}

// MaxLen is the high watermark of the buffered entries
func (c *Channel) MaxLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxLen
}

func (c *Channel) wakeup() {
	if c.notify == nil {
		return
	}
	select {
	case c.notify <- struct{}{}:
	default:
	}
}
