// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package directip

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// InformationElement is one raw IE from a DirectIP message.
type InformationElement struct {
	ID   byte
	Body []byte
}

// MOHeader is the mobile-originated header IE (0x01).
type MOHeader struct {
	CDRReference  uint32
	IMEI          string
	SessionStatus uint8
	MOMSN         uint16
	MTMSN         uint16
	SessionTime   time.Time
}

// MOMessage is a mobile-originated message delivered by the gateway.
type MOMessage struct {
	Header  MOHeader
	Payload []byte
}

// MTHeader is the mobile-terminated header IE (0x41).
type MTHeader struct {
	ClientMessageID  uint32
	IMEI             string
	DispositionFlags uint16
}

// MTMessage is a mobile-terminated message sent to the gateway.
type MTMessage struct {
	Header  MTHeader
	Payload []byte
}

// MTConfirmation is the gateway's reply (IE 0x44) to an MT message.
// A positive Status is the MT queue position; negative values are errors.
type MTConfirmation struct {
	ClientMessageID uint32
	IMEI            string
	AutoIDReference uint32
	Status          int16
}

// Success reports whether the gateway queued the MT message.
func (c *MTConfirmation) Success() bool {
	return c.Status >= 0
}

// Encode builds a complete message from IEs.
func Encode(ies ...InformationElement) ([]byte, error) {
	bodyLen := 0
	for _, ie := range ies {
		if len(ie.Body) > 0xFFFF {
			return nil, fmt.Errorf("%w: IE 0x%02X is %d bytes", ErrTooLarge, ie.ID, len(ie.Body))
		}
		bodyLen += IEHeaderSize + len(ie.Body)
	}
	if bodyLen > 0xFFFF {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, bodyLen)
	}

	out := make([]byte, PreHeaderSize, PreHeaderSize+bodyLen)
	out[0] = ProtocolRevision
	binary.BigEndian.PutUint16(out[1:3], uint16(bodyLen))
	for _, ie := range ies {
		var hdr [IEHeaderSize]byte
		hdr[0] = ie.ID
		binary.BigEndian.PutUint16(hdr[1:], uint16(len(ie.Body)))
		out = append(out, hdr[:]...)
		out = append(out, ie.Body...)
	}
	return out, nil
}

// Decode splits a complete message into its IEs.
func Decode(msg []byte) ([]InformationElement, error) {
	if len(msg) < PreHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(msg))
	}
	if msg[0] != ProtocolRevision {
		return nil, fmt.Errorf("%w: %d", ErrBadRevision, msg[0])
	}
	overall := int(binary.BigEndian.Uint16(msg[1:3]))
	body := msg[PreHeaderSize:]
	if len(body) < overall {
		return nil, fmt.Errorf("%w: header says %d bytes, have %d", ErrTruncated, overall, len(body))
	}
	body = body[:overall]

	var ies []InformationElement
	for len(body) > 0 {
		if len(body) < IEHeaderSize {
			return nil, fmt.Errorf("%w: partial IE header", ErrTruncated)
		}
		id := body[0]
		n := int(binary.BigEndian.Uint16(body[1:3]))
		if len(body) < IEHeaderSize+n {
			return nil, fmt.Errorf("%w: IE 0x%02X wants %d bytes, have %d", ErrTruncated, id, n, len(body)-IEHeaderSize)
		}
		ies = append(ies, InformationElement{ID: id, Body: body[IEHeaderSize : IEHeaderSize+n]})
		body = body[IEHeaderSize+n:]
	}
	return ies, nil
}

// ReadMessage reads one complete message (pre-header and body) from r.
func ReadMessage(r io.Reader) ([]byte, error) {
	pre := make([]byte, PreHeaderSize)
	if _, err := io.ReadFull(r, pre); err != nil {
		return nil, fmt.Errorf("read pre-header: %w", err)
	}
	if pre[0] != ProtocolRevision {
		return nil, fmt.Errorf("%w: %d", ErrBadRevision, pre[0])
	}
	n := int(binary.BigEndian.Uint16(pre[1:3]))
	msg := make([]byte, PreHeaderSize+n)
	copy(msg, pre)
	if _, err := io.ReadFull(r, msg[PreHeaderSize:]); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return msg, nil
}

func findIE(ies []InformationElement, id byte) ([]byte, bool) {
	for _, ie := range ies {
		if ie.ID == id {
			return ie.Body, true
		}
	}
	return nil, false
}

func putIMEI(dst []byte, imei string) error {
	if len(imei) != IMEISize {
		return fmt.Errorf("%w: %q", ErrBadIMEI, imei)
	}
	for i := 0; i < IMEISize; i++ {
		if imei[i] < '0' || imei[i] > '9' {
			return fmt.Errorf("%w: %q", ErrBadIMEI, imei)
		}
	}
	copy(dst, imei)
	return nil
}

// MarshalBinary encodes an MO message as the gateway would send it.
func (m *MOMessage) MarshalBinary() ([]byte, error) {
	hdr := make([]byte, moHeaderSize)
	binary.BigEndian.PutUint32(hdr[0:4], m.Header.CDRReference)
	if err := putIMEI(hdr[4:19], m.Header.IMEI); err != nil {
		return nil, err
	}
	hdr[19] = m.Header.SessionStatus
	binary.BigEndian.PutUint16(hdr[20:22], m.Header.MOMSN)
	binary.BigEndian.PutUint16(hdr[22:24], m.Header.MTMSN)
	binary.BigEndian.PutUint32(hdr[24:28], uint32(m.Header.SessionTime.Unix()))

	return Encode(
		InformationElement{ID: IEIMOHeader, Body: hdr},
		InformationElement{ID: IEIMOPayload, Body: m.Payload},
	)
}

// ParseMO decodes a mobile-originated message. Unknown IEs (such as the
// location IE) are skipped.
func ParseMO(msg []byte) (*MOMessage, error) {
	ies, err := Decode(msg)
	if err != nil {
		return nil, err
	}
	hdr, ok := findIE(ies, IEIMOHeader)
	if !ok {
		return nil, fmt.Errorf("%w: MO header", ErrMissingIE)
	}
	if len(hdr) < moHeaderSize {
		return nil, fmt.Errorf("%w: MO header is %d bytes", ErrTruncated, len(hdr))
	}

	m := &MOMessage{
		Header: MOHeader{
			CDRReference:  binary.BigEndian.Uint32(hdr[0:4]),
			IMEI:          string(hdr[4:19]),
			SessionStatus: hdr[19],
			MOMSN:         binary.BigEndian.Uint16(hdr[20:22]),
			MTMSN:         binary.BigEndian.Uint16(hdr[22:24]),
			SessionTime:   time.Unix(int64(binary.BigEndian.Uint32(hdr[24:28])), 0).UTC(),
		},
	}
	if payload, ok := findIE(ies, IEIMOPayload); ok {
		m.Payload = append([]byte(nil), payload...)
	}
	return m, nil
}

// MarshalBinary encodes an MT message for the gateway.
func (m *MTMessage) MarshalBinary() ([]byte, error) {
	if len(m.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: MT payload is %d bytes (max %d)", ErrTooLarge, len(m.Payload), MaxPayloadSize)
	}
	hdr := make([]byte, mtHeaderSize)
	binary.BigEndian.PutUint32(hdr[0:4], m.Header.ClientMessageID)
	if err := putIMEI(hdr[4:19], m.Header.IMEI); err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint16(hdr[19:21], m.Header.DispositionFlags)

	return Encode(
		InformationElement{ID: IEIMTHeader, Body: hdr},
		InformationElement{ID: IEIMTPayload, Body: m.Payload},
	)
}

// ParseMT decodes a mobile-terminated message.
func ParseMT(msg []byte) (*MTMessage, error) {
	ies, err := Decode(msg)
	if err != nil {
		return nil, err
	}
	hdr, ok := findIE(ies, IEIMTHeader)
	if !ok {
		return nil, fmt.Errorf("%w: MT header", ErrMissingIE)
	}
	if len(hdr) < mtHeaderSize {
		return nil, fmt.Errorf("%w: MT header is %d bytes", ErrTruncated, len(hdr))
	}

	m := &MTMessage{
		Header: MTHeader{
			ClientMessageID:  binary.BigEndian.Uint32(hdr[0:4]),
			IMEI:             string(hdr[4:19]),
			DispositionFlags: binary.BigEndian.Uint16(hdr[19:21]),
		},
	}
	if payload, ok := findIE(ies, IEIMTPayload); ok {
		m.Payload = append([]byte(nil), payload...)
	}
	return m, nil
}

// MarshalBinary encodes an MT confirmation as the gateway would send it.
func (c *MTConfirmation) MarshalBinary() ([]byte, error) {
	body := make([]byte, mtConfirmationSize)
	binary.BigEndian.PutUint32(body[0:4], c.ClientMessageID)
	if err := putIMEI(body[4:19], c.IMEI); err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint32(body[19:23], c.AutoIDReference)
	binary.BigEndian.PutUint16(body[23:25], uint16(c.Status))

	return Encode(InformationElement{ID: IEIMTConfirmation, Body: body})
}

// ParseMTConfirmation decodes the gateway's MT confirmation.
func ParseMTConfirmation(msg []byte) (*MTConfirmation, error) {
	ies, err := Decode(msg)
	if err != nil {
		return nil, err
	}
	body, ok := findIE(ies, IEIMTConfirmation)
	if !ok {
		return nil, fmt.Errorf("%w: MT confirmation", ErrMissingIE)
	}
	if len(body) < mtConfirmationSize {
		return nil, fmt.Errorf("%w: MT confirmation is %d bytes", ErrTruncated, len(body))
	}

	return &MTConfirmation{
		ClientMessageID: binary.BigEndian.Uint32(body[0:4]),
		IMEI:            string(body[4:19]),
		AutoIDReference: binary.BigEndian.Uint32(body[19:23]),
		Status:          int16(binary.BigEndian.Uint16(body[23:25])),
	}, nil
}
