/*
 * Copyright 2024 The Canopy Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package dispatch provides the serialized task loop that owns all
// document room state. Structural operations and editing diffs are
// closures executed one at a time in receipt order, so the room
// registry needs no internal locking and versions of a single room
// never interleave.
package dispatch

import (
	"context"
	"sync"

	"github.com/canopyhq/canopy/pkg/errors"
)

// ErrDispatcherClosed is returned when a task is submitted after Close.
var ErrDispatcherClosed = errors.FailedPrecond("dispatcher closed").WithCode("ErrDispatcherClosed")

// queueSize bounds the number of tasks waiting for the loop.
const queueSize = 128

type task struct {
	fn   func()
	done chan struct{}
}

// Dispatcher executes submitted tasks sequentially on a single
// goroutine.
type Dispatcher struct {
	tasks chan task

	closeOnce sync.Once
	closed    chan struct{}
	drained   chan struct{}
}

// New creates a Dispatcher and starts its loop.
func New() *Dispatcher {
	d := &Dispatcher{
		tasks:   make(chan task, queueSize),
		closed:  make(chan struct{}),
		drained: make(chan struct{}),
	}

	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.drained)

	for {
		select {
		case t := <-d.tasks:
			t.fn()
			close(t.done)
		case <-d.closed:
			// drain tasks accepted before Close
			for {
				select {
				case t := <-d.tasks:
					t.fn()
					close(t.done)
				default:
					return
				}
			}
		}
	}
}

// Submit runs the given task on the loop goroutine and waits for it to
// complete. Tasks submitted from within a running task would wait on
// themselves; handlers are invoked from connection goroutines only.
func (d *Dispatcher) Submit(ctx context.Context, fn func()) error {
	t := task{fn: fn, done: make(chan struct{})}

	select {
	case <-d.closed:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	case d.tasks <- t:
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		// the task still runs; the caller just stops waiting
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for already-accepted tasks to
// finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.closed)
	})
	<-d.drained
}
