// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package lineio provides line oriented, non-blocking transports to a
// modem: serial ports, TCP clients and servers, a WebSocket serial bridge
// and an in-memory loopback.
package lineio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// ErrConnectionClosed is returned when writing to a closed transport.
var ErrConnectionClosed = errors.New("connection closed")

// maxPending bounds bytes buffered without a delimiter. A longer run is
// delivered as a line of its own.
const maxPending = 64 * 1024

// Transport is a line oriented link to a modem. ReadLine never blocks:
// it returns the next complete line (delimiter included) or false.
type Transport interface {
	io.Writer
	ReadLine() (string, bool)
	Active() bool
	Close() error
}

// Waiter is implemented by transports that can be open with no link yet,
// such as a server still waiting for its peer.
type Waiter interface {
	Waiting() bool
}

// DTRSetter is implemented by transports with a DTR control line.
type DTRSetter interface {
	SetDTR(on bool) error
}

// Conn turns any byte stream into a Transport. A background goroutine
// reads the stream and splits it into lines.
type Conn struct {
	rw    io.ReadWriteCloser
	delim []byte

	mu      sync.Mutex
	lines   []string
	pending []byte
	err     error

	active    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps rw and starts reading. An empty delim means "\r\n".
func NewConn(rw io.ReadWriteCloser, delim string) *Conn {
	if delim == "" {
		delim = "\r\n"
	}
	c := &Conn{
		rw:    rw,
		delim: []byte(delim),
		done:  make(chan struct{}),
	}
	c.active.Store(true)
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer close(c.done)
	buf := make([]byte, 4096)
	for {
		n, err := c.rw.Read(buf)
		if n > 0 {
			c.push(buf[:n])
		}
		if err != nil {
			c.mu.Lock()
			if len(c.pending) > 0 {
				c.lines = append(c.lines, string(c.pending))
				c.pending = nil
			}
			c.err = err
			c.mu.Unlock()
			c.active.Store(false)
			return
		}
	}
}

func (c *Conn) push(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = append(c.pending, data...)
	for {
		i := bytes.Index(c.pending, c.delim)
		if i < 0 {
			break
		}
		end := i + len(c.delim)
		c.lines = append(c.lines, string(c.pending[:end]))
		c.pending = c.pending[end:]
	}
	if len(c.pending) > maxPending {
		c.lines = append(c.lines, string(c.pending))
		c.pending = nil
	}
	if len(c.pending) == 0 {
		c.pending = nil
	}
}

// ReadLine returns the next complete line, including its delimiter.
func (c *Conn) ReadLine() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lines) == 0 {
		return "", false
	}
	line := c.lines[0]
	c.lines[0] = ""
	c.lines = c.lines[1:]
	return line, true
}

func (c *Conn) Write(p []byte) (int, error) {
	if !c.active.Load() {
		return 0, ErrConnectionClosed
	}
	n, err := c.rw.Write(p)
	if err != nil {
		c.active.Store(false)
		return n, fmt.Errorf("write: %w", err)
	}
	return n, nil
}

// Active reports whether the underlying link is still up.
func (c *Conn) Active() bool {
	return c.active.Load()
}

// Err returns the error that ended the read loop, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the link. Lines already read stay available.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.active.Store(false)
		err = c.rw.Close()
	})
	return err
}

// RemoteAddr names the peer when the stream is a network connection.
func (c *Conn) RemoteAddr() string {
	if nc, ok := c.rw.(interface{ RemoteAddr() net.Addr }); ok {
		return nc.RemoteAddr().String()
	}
	return ""
}

// Done is closed when the read loop exits.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}
