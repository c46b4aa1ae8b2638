// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package acomms

// Signals is the observer registry a driver reports through. Drivers fire
// every callback synchronously from inside Poll (or HandleInitiateTransmission
// for the data request and modify hooks), in registration order. Callbacks
// must not call back into the driver's Poll.
type Signals struct {
	receive     []func(*ModemTransmission)
	ack         []func(*ModemTransmission)
	rangeReply  []func(*ModemTransmission)
	dataRequest []func(*ModemTransmission)
	modify      []func(*ModemTransmission)
	rawIn       []func(string)
	rawOut      []func(string)
}

// OnReceive registers fn for every transmission the modem receives,
// including ACKs and range replies.
func (s *Signals) OnReceive(fn func(*ModemTransmission)) { s.receive = append(s.receive, fn) }

// OnAck registers fn for acknowledgements of frames this driver sent.
func (s *Signals) OnAck(fn func(*ModemTransmission)) { s.ack = append(s.ack, fn) }

// OnRangeReply registers fn for ranging results.
func (s *Signals) OnRangeReply(fn func(*ModemTransmission)) { s.rangeReply = append(s.rangeReply, fn) }

// OnDataRequest registers a fill-in style responder. It receives a
// transmission with Dest, MaxNumFrames and MaxFrameBytes set and appends
// frames with AppendFrame. No frames means no data.
func (s *Signals) OnDataRequest(fn func(*ModemTransmission)) {
	s.dataRequest = append(s.dataRequest, fn)
}

// OnModifyTransmission registers fn to edit outgoing transmissions before
// the driver acts on them.
func (s *Signals) OnModifyTransmission(fn func(*ModemTransmission)) {
	s.modify = append(s.modify, fn)
}

// OnRawIncoming registers fn for every line read from the modem.
func (s *Signals) OnRawIncoming(fn func(string)) { s.rawIn = append(s.rawIn, fn) }

// OnRawOutgoing registers fn for every line written to the modem.
func (s *Signals) OnRawOutgoing(fn func(string)) { s.rawOut = append(s.rawOut, fn) }

// EmitReceive fires the receive observers, then the ack or range reply
// observers when the type calls for it.
func (s *Signals) EmitReceive(m *ModemTransmission) {
	for _, fn := range s.receive {
		fn(m)
	}
	switch {
	case m.Type == TypeAck:
		for _, fn := range s.ack {
			fn(m)
		}
	case m.Type.IsRanging() && m.Ranging != nil:
		for _, fn := range s.rangeReply {
			fn(m)
		}
	}
}

// EmitDataRequest asks responders to fill m.
func (s *Signals) EmitDataRequest(m *ModemTransmission) {
	for _, fn := range s.dataRequest {
		fn(m)
	}
}

// EmitModifyTransmission lets observers edit m.
func (s *Signals) EmitModifyTransmission(m *ModemTransmission) {
	for _, fn := range s.modify {
		fn(m)
	}
}

func (s *Signals) EmitRawIncoming(line string) {
	for _, fn := range s.rawIn {
		fn(line)
	}
}

func (s *Signals) EmitRawOutgoing(line string) {
	for _, fn := range s.rawOut {
		fn(line)
	}
}

// HasDataRequest reports whether any data request responder is registered.
func (s *Signals) HasDataRequest() bool {
	return len(s.dataRequest) > 0
}
