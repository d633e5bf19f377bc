// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package channel provides a bounded multi-producer/multi-consumer queue
// whose callers can observe when they had to block. The block observations
// feed the pipeline bottleneck diagnostics of the parallel dump.
package channel

import (
	"sync"
)

// BoundedChannel is a fixed-capacity FIFO queue. Push blocks while the
// channel is full; Pop blocks while it is empty. Closing the channel wakes
// all blocked callers: blocked pushers report stopped=true and blocked
// poppers report ok=false once the queue has drained.
type BoundedChannel[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	items     []T
	capacity  int
	closed    bool
	producers int
}

// NewBoundedChannel returns a channel holding at most capacity items.
func NewBoundedChannel[T any](capacity int) *BoundedChannel[T] {
	if capacity < 1 {
		capacity = 1
	}
	c := &BoundedChannel[T]{capacity: capacity}
	c.notFull = sync.NewCond(&c.mu)
	c.notEmpty = sync.NewCond(&c.mu)
	return c
}

// Push enqueues an item, blocking while the channel is full. It returns
// stopped=true if the channel was closed before the item could be enqueued,
// and blocked=true if the caller had to wait for space.
func (c *BoundedChannel[T]) Push(item T) (stopped bool, blocked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	blocked = len(c.items) >= c.capacity && !c.closed
	for len(c.items) >= c.capacity && !c.closed {
		c.notFull.Wait()
	}
	if c.closed {
		return true, blocked
	}
	c.items = append(c.items, item)
	c.notEmpty.Signal()
	return false, blocked
}

// Pop dequeues the next item, blocking while the channel is empty. ok=false
// means the channel was closed and fully drained. blocked=true means the
// caller had to wait for an item.
func (c *BoundedChannel[T]) Pop() (item T, ok bool, blocked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	blocked = len(c.items) == 0 && !c.closed
	for len(c.items) == 0 && !c.closed {
		c.notEmpty.Wait()
	}
	if len(c.items) == 0 {
		var zero T
		return zero, false, blocked
	}
	item = c.items[0]
	c.items = c.items[1:]
	c.notFull.Signal()
	return item, true, blocked
}

// Close marks the channel as stopped and wakes all blocked callers. Items
// already enqueued can still be popped.
func (c *BoundedChannel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.close()
}

func (c *BoundedChannel[T]) close() {
	if c.closed {
		return
	}
	c.closed = true
	c.notFull.Broadcast()
	c.notEmpty.Broadcast()
}

// Len returns the number of items currently queued.
func (c *BoundedChannel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// ProducerGuard tracks one producer of a channel. When the last registered
// producer drops its guard the channel closes automatically, signalling the
// consumers that no more items will arrive.
type ProducerGuard[T any] struct {
	ch   *BoundedChannel[T]
	once sync.Once
}

// AddProducer registers a producer with the channel and returns its guard.
func (c *BoundedChannel[T]) AddProducer() *ProducerGuard[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.producers++
	return &ProducerGuard[T]{ch: c}
}

// Done drops the producer. Calling Done more than once has no effect.
func (g *ProducerGuard[T]) Done() {
	g.once.Do(func() {
		g.ch.mu.Lock()
		defer g.ch.mu.Unlock()
		g.ch.producers--
		if g.ch.producers == 0 {
			g.ch.close()
		}
	})
}
