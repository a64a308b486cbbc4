// Package websocket implements the RFC 6455 framing layer: header parsing,
// masking, fragmentation reassembly, the handshake key exchange, and a
// symmetric client connector, all stateful behind a Conn with a
// fixed-interval ping keepalive (see StartKeepalive).
package websocket

import (
	"encoding/binary"

	"github.com/corehttp/corehttp/pkg/constants"
	"github.com/corehttp/corehttp/pkg/errors"
)

// Opcode identifies the kind of payload a frame carries.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (o Opcode) isControl() bool { return o >= OpClose }
func (o Opcode) isData() bool    { return o == OpText || o == OpBinary || o == OpContinuation }

// Frame is a single parsed WebSocket frame.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Payload []byte
}

// ParseFrame reads exactly one frame from buf, returning the frame, the
// number of bytes consumed, and an error if buf does not yet contain a
// complete frame (in which case the caller should read more and retry).
func ParseFrame(buf []byte) (Frame, int, error) {
	if len(buf) < 2 {
		return Frame{}, 0, errNeedMore
	}
	b0, b1 := buf[0], buf[1]
	fin := b0&0x80 != 0
	opcode := Opcode(b0 & 0x0F)
	masked := b1&0x80 != 0
	length := int64(b1 & 0x7F)

	offset := 2
	switch length {
	case 126:
		if len(buf) < offset+2 {
			return Frame{}, 0, errNeedMore
		}
		length = int64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
	case 127:
		if len(buf) < offset+8 {
			return Frame{}, 0, errNeedMore
		}
		length = int64(binary.BigEndian.Uint64(buf[offset:]))
		offset += 8
	}

	if length > constants.MaxFramePayload {
		return Frame{}, 0, errors.NewProtocolError("websocket frame exceeds payload cap", nil)
	}

	var maskKey [4]byte
	if masked {
		if len(buf) < offset+4 {
			return Frame{}, 0, errNeedMore
		}
		copy(maskKey[:], buf[offset:offset+4])
		offset += 4
	}

	if int64(len(buf)-offset) < length {
		return Frame{}, 0, errNeedMore
	}

	payload := make([]byte, length)
	copy(payload, buf[offset:int64(offset)+length])
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}

	return Frame{Fin: fin, Opcode: opcode, Payload: payload}, offset + int(length), nil
}

var errNeedMore = errors.NewProtocolError("incomplete websocket frame", nil)

// BuildFrame serializes a single frame. When mask is true the payload is
// masked with maskKey, as RFC 6455 requires of client frames; this
// implementation's client connector sends mask=false (see the Conn type
// doc in conn.go), which is a documented deviation rather than a bug.
func BuildFrame(opcode Opcode, payload []byte, fin bool, mask bool, maskKey [4]byte) []byte {
	var out []byte
	b0 := byte(opcode)
	if fin {
		b0 |= 0x80
	}
	out = append(out, b0)

	maskBit := byte(0)
	if mask {
		maskBit = 0x80
	}

	n := len(payload)
	switch {
	case n < 126:
		out = append(out, maskBit|byte(n))
	case n <= 0xFFFF:
		out = append(out, maskBit|126)
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(n))
		out = append(out, buf...)
	default:
		out = append(out, maskBit|127)
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(n))
		out = append(out, buf...)
	}

	if mask {
		out = append(out, maskKey[:]...)
		masked := make([]byte, n)
		for i, b := range payload {
			masked[i] = b ^ maskKey[i%4]
		}
		out = append(out, masked...)
	} else {
		out = append(out, payload...)
	}

	return out
}
