// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lineio

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// DialTCP connects to a modem (or serial server) at addr.
func DialTCP(ctx context.Context, addr string, delim string) (*Conn, error) {
	d := net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return NewConn(conn, delim), nil
}

// Listener accepts TCP peers in the background. Accept never blocks.
type Listener struct {
	ln    net.Listener
	delim string

	mu       sync.Mutex
	accepted []*Conn
	err      error
}

// Listen starts accepting on addr (":4000" style).
func Listen(addr string, delim string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	l := &Listener{ln: ln, delim: delim}
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.mu.Lock()
			l.err = err
			l.mu.Unlock()
			return
		}
		l.mu.Lock()
		l.accepted = append(l.accepted, NewConn(conn, l.delim))
		l.mu.Unlock()
	}
}

// Accept returns the next newly connected peer, if any.
func (l *Listener) Accept() (*Conn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.accepted) == 0 {
		return nil, false
	}
	c := l.accepted[0]
	l.accepted = l.accepted[1:]
	return c, true
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *Listener) Close() error {
	return l.ln.Close()
}

// Server is a single peer Transport: a TCP listener where the most
// recently connected peer is the modem. A new peer replaces the old one.
type Server struct {
	l    *Listener
	peer *Conn
}

// ListenServer starts a single peer server on addr.
func ListenServer(addr string, delim string) (*Server, error) {
	l, err := Listen(addr, delim)
	if err != nil {
		return nil, err
	}
	return &Server{l: l}, nil
}

func (s *Server) refresh() {
	for {
		c, ok := s.l.Accept()
		if !ok {
			return
		}
		if s.peer != nil {
			s.peer.Close()
		}
		s.peer = c
	}
}

func (s *Server) ReadLine() (string, bool) {
	s.refresh()
	if s.peer == nil {
		return "", false
	}
	return s.peer.ReadLine()
}

func (s *Server) Write(p []byte) (int, error) {
	s.refresh()
	if s.peer == nil || !s.peer.Active() {
		return 0, ErrConnectionClosed
	}
	return s.peer.Write(p)
}

// Waiting reports whether no peer has connected yet. Once a peer has
// connected the server never waits again: a dropped peer is a lost link.
func (s *Server) Waiting() bool {
	s.refresh()
	return s.peer == nil
}

// Active reports whether a peer is connected.
func (s *Server) Active() bool {
	s.refresh()
	return s.peer != nil && s.peer.Active()
}

func (s *Server) Addr() net.Addr {
	return s.l.Addr()
}

func (s *Server) Close() error {
	if s.peer != nil {
		s.peer.Close()
	}
	return s.l.Close()
}
