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

package rpc

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"

	"github.com/canopyhq/canopy/api/types"
	"github.com/canopyhq/canopy/api/types/events"
	"github.com/canopyhq/canopy/pkg/errors"
	"github.com/canopyhq/canopy/server/logging"
)

// ErrConnClosed is returned when a frame is emitted to a closed
// connection.
var ErrConnClosed = errors.FailedPrecond("connection closed").WithCode("ErrConnClosed")

// sendQueueSize bounds the outbound frame queue per connection. A slow
// reader that falls this far behind is disconnected.
const sendQueueSize = 64

const writeTimeout = 10 * time.Second

// conn wraps one websocket connection with a single writer goroutine.
// All frames go through the queue; gorilla connections allow only one
// concurrent writer.
type conn struct {
	id string
	ws *websocket.Conn

	sendCh chan any

	closeOnce sync.Once
	closed    chan struct{}

	logger logging.Logger
}

func newConn(ws *websocket.Conn, pingInterval time.Duration) *conn {
	c := &conn{
		id:     xid.New().String(),
		ws:     ws,
		sendCh: make(chan any, sendQueueSize),
		closed: make(chan struct{}),
		logger: logging.New("rpc"),
	}

	go c.writeLoop(pingInterval)
	return c
}

// ID returns the session id of this connection.
func (c *conn) ID() string {
	return c.id
}

// enqueue places a frame on the outbound queue. A full queue closes the
// connection; the client reconnects and catches up through the resend
// protocol.
func (c *conn) enqueue(frame any) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	select {
	case c.sendCh <- frame:
		return nil
	default:
		c.logger.Warnf("send queue full, closing connection %s", c.id)
		c.Close()
		return ErrConnClosed
	}
}

// Close tears the connection down. It is safe to call multiple times.
func (c *conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if err := c.ws.Close(); err != nil {
			c.logger.Debugf("close connection %s: %v", c.id, err)
		}
	})
}

func (c *conn) writeLoop(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.sendCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(frame); err != nil {
				c.logger.Debugf("write to %s: %v", c.id, err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// spaceConn adapts a conn to the space protocol's emit capability.
type spaceConn struct {
	*conn
}

func (c *spaceConn) Emit(event events.SpaceEvent) error {
	return c.enqueue(event)
}

// docConn adapts a conn to the document protocol's emit capability.
type docConn struct {
	*conn
}

func (c *docConn) Emit(msg *types.DocServerMessage) error {
	return c.enqueue(msg)
}
