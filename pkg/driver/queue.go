// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import "time"

// Retry policy shared by command-style modems.
const (
	// Retries is the number of timeout driven resends before a command is given up.
	Retries = 3
	// MaxFailsBeforeDead is the number of consecutive timeouts across all
	// commands that marks the modem as not responding.
	MaxFailsBeforeDead = 5
	// DefaultCommandTimeout applies to commands queued without a timeout.
	DefaultCommandTimeout = 2 * time.Second
)

// RetryAction tells the caller what to do with the front command.
type RetryAction int

const (
	// RetryWait: nothing to send, or the front command is still within its timeout.
	RetryWait RetryAction = iota
	// RetrySend: the front command has not been sent yet.
	RetrySend
	// RetryResend: the front command timed out and should be sent again.
	RetryResend
	// RetryDrop: the front command exhausted its retries and was removed.
	RetryDrop
	// RetryReset: a command exhausted its retries on a queue that resets the modem.
	RetryReset
	// RetryDead: too many consecutive timeouts. The modem is not responding.
	RetryDead
)

func (a RetryAction) String() string {
	switch a {
	case RetryWait:
		return "wait"
	case RetrySend:
		return "send"
	case RetryResend:
		return "resend"
	case RetryDrop:
		return "drop"
	case RetryReset:
		return "reset"
	case RetryDead:
		return "dead"
	}
	return "unknown"
}

// Command is one outstanding line for the modem.
type Command struct {
	Text    string
	Timeout time.Duration
	// Tries counts sends so far, the first send included.
	Tries    int
	LastSend time.Time
}

// CommandQueue is the FIFO of outgoing commands. Only the front command is
// ever in flight and acknowledgements always pop the front.
type CommandQueue struct {
	cmds []*Command

	// ResetOnExhaust turns RetryDrop into RetryReset.
	ResetOnExhaust bool

	globalFails int
}

// Push appends a command. A zero timeout means DefaultCommandTimeout.
func (q *CommandQueue) Push(text string, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	q.cmds = append(q.cmds, &Command{Text: text, Timeout: timeout})
}

// PushFront puts a command ahead of everything already queued. The
// current front, if already sent, becomes unsent so it is sent again
// after the new command is acknowledged.
func (q *CommandQueue) PushFront(text string, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	if len(q.cmds) > 0 {
		q.cmds[0].Tries = 0
		q.cmds[0].LastSend = time.Time{}
	}
	q.cmds = append([]*Command{{Text: text, Timeout: timeout}}, q.cmds...)
}

// Front returns the in-flight (or next) command.
func (q *CommandQueue) Front() (*Command, bool) {
	if len(q.cmds) == 0 {
		return nil, false
	}
	return q.cmds[0], true
}

// Pop removes the front command after it was acknowledged.
func (q *CommandQueue) Pop() (*Command, bool) {
	if len(q.cmds) == 0 {
		return nil, false
	}
	c := q.cmds[0]
	q.cmds[0] = nil
	q.cmds = q.cmds[1:]
	return c, true
}

// Len returns the number of queued commands.
func (q *CommandQueue) Len() int {
	return len(q.cmds)
}

// Empty reports whether nothing is queued.
func (q *CommandQueue) Empty() bool {
	return len(q.cmds) == 0
}

// Clear drops every queued command.
func (q *CommandQueue) Clear() {
	q.cmds = nil
}

// Texts returns the queued command strings, front first.
func (q *CommandQueue) Texts() []string {
	out := make([]string, len(q.cmds))
	for i, c := range q.cmds {
		out[i] = c.Text
	}
	return out
}

// GlobalFails returns the consecutive timeout count.
func (q *CommandQueue) GlobalFails() int {
	return q.globalFails
}

// ResetGlobalFails is called whenever the modem says anything.
func (q *CommandQueue) ResetGlobalFails() {
	q.globalFails = 0
}

// Check decides what to do with the front command at time now. It never
// writes; the caller sends on RetrySend/RetryResend and calls MarkSent.
func (q *CommandQueue) Check(now time.Time) RetryAction {
	front, ok := q.Front()
	if !ok {
		return RetryWait
	}
	if front.Tries == 0 {
		return RetrySend
	}
	if now.Sub(front.LastSend) < front.Timeout {
		return RetryWait
	}

	q.globalFails++
	if q.globalFails >= MaxFailsBeforeDead {
		return RetryDead
	}
	if front.Tries > Retries {
		q.Pop()
		if q.ResetOnExhaust {
			return RetryReset
		}
		return RetryDrop
	}
	return RetryResend
}

// MarkSent records that the front command was written at now.
func (q *CommandQueue) MarkSent(now time.Time) {
	if front, ok := q.Front(); ok {
		front.Tries++
		front.LastSend = now
	}
}
