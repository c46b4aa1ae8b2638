// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lineio

import (
	"net"
	"strings"
	"sync"
)

// Loopback is an in-memory Transport for simulation and tests. Lines
// injected with Inject are returned by ReadLine; writes are recorded.
type Loopback struct {
	mu      sync.Mutex
	in      []string
	written []string
	closed  bool
	dtr     bool
	dtrLog  []bool
}

// NewLoopback returns an active loopback with DTR raised.
func NewLoopback() *Loopback {
	return &Loopback{dtr: true}
}

// Inject queues lines for ReadLine.
func (l *Loopback) Inject(lines ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.in = append(l.in, lines...)
}

func (l *Loopback) ReadLine() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.in) == 0 {
		return "", false
	}
	line := l.in[0]
	l.in = l.in[1:]
	return line, true
}

func (l *Loopback) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrConnectionClosed
	}
	l.written = append(l.written, string(p))
	return len(p), nil
}

func (l *Loopback) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *Loopback) SetDTR(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dtr = on
	l.dtrLog = append(l.dtrLog, on)
	return nil
}

// DTR returns the current DTR state and every change made so far.
func (l *Loopback) DTR() (bool, []bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dtr, append([]bool(nil), l.dtrLog...)
}

// Written returns every write so far.
func (l *Loopback) Written() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.written...)
}

// Take returns and clears the writes so far.
func (l *Loopback) Take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.written
	l.written = nil
	return w
}

// WrittenText joins every write into one string.
func (l *Loopback) WrittenText() string {
	return strings.Join(l.Written(), "")
}

// Pipe returns two connected in-memory Transports.
func Pipe(delim string) (*Conn, *Conn) {
	a, b := net.Pipe()
	return NewConn(a, delim), NewConn(b, delim)
}
