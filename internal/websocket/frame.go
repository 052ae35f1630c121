package websocket

import (
	"encoding/binary"
	"errors"
	"io"
)

// Opcodes defined in RFC 6455 Section 5.2.
const (
	opContinuation byte = 0x0
	opText         byte = 0x1
	opBinary       byte = 0x2
	opClose        byte = 0x8
	opPing         byte = 0x9
	opPong         byte = 0xA
)

const (
	finBit  = 0x80
	maskBit = 0x80
)

// MaxShortPayload is the largest payload that fits in the 7-bit length field.
const MaxShortPayload = 125

// maxReadPayload caps client frames. Nothing the browser sends is read for
// content, so anything larger is treated as a broken peer.
const maxReadPayload = 64 << 10

// Close status codes used by the server.
const (
	StatusNormalClosure uint16 = 1000
	StatusGoingAway     uint16 = 1001
	StatusProtocolError uint16 = 1002
)

var (
	// ErrPayloadTooLong is returned when a message does not fit a single-byte length frame.
	ErrPayloadTooLong = errors.New("payload exceeds 125 bytes")
	// ErrFrameTooLarge is returned when a client frame exceeds the read limit.
	ErrFrameTooLarge = errors.New("client frame exceeds read limit")
	// ErrUnmaskedFrame is returned when a client sends a frame without a mask.
	ErrUnmaskedFrame = errors.New("client frame is not masked")
	// ErrBadControlFrame is returned for fragmented or oversized control frames.
	ErrBadControlFrame = errors.New("control frame is fragmented or too long")
)

// EncodeTextFrame encodes message as one unfragmented, unmasked text frame:
// 0x81, the payload length, then the UTF-8 bytes.
func EncodeTextFrame(message string) ([]byte, error) {
	n := len(message)
	if n > MaxShortPayload {
		return nil, ErrPayloadTooLong
	}
	buf := make([]byte, 2+n)
	buf[0] = finBit | opText
	buf[1] = byte(n)
	copy(buf[2:], message)
	return buf, nil
}

// encodeControlFrame builds a server control frame. Control payloads are
// capped at 125 bytes by the protocol, so longer input is truncated.
func encodeControlFrame(opcode byte, payload []byte) []byte {
	if len(payload) > MaxShortPayload {
		payload = payload[:MaxShortPayload]
	}
	buf := make([]byte, 2+len(payload))
	buf[0] = finBit | opcode
	buf[1] = byte(len(payload))
	copy(buf[2:], payload)
	return buf
}

func closePayload(code uint16, reason string) []byte {
	p := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(p, code)
	copy(p[2:], reason)
	return p
}

// frame is a decoded client-to-server frame.
type frame struct {
	fin     bool
	opcode  byte
	payload []byte
}

func isControl(opcode byte) bool {
	return opcode&0x08 != 0
}

// readFrame reads one masked client frame from r. An io.EOF before the first
// header byte means the peer ended the stream cleanly.
func readFrame(r io.Reader) (frame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return frame{}, err
	}
	f := frame{
		fin:    hdr[0]&finBit != 0,
		opcode: hdr[0] & 0x0F,
	}
	masked := hdr[1]&maskBit != 0

	length := uint64(hdr[1] &^ maskBit)
	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return frame{}, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return frame{}, err
		}
		length = binary.BigEndian.Uint64(ext[:])
	}
	if length > maxReadPayload {
		return frame{}, ErrFrameTooLarge
	}
	if isControl(f.opcode) && (!f.fin || length > MaxShortPayload) {
		return frame{}, ErrBadControlFrame
	}
	if !masked {
		return frame{}, ErrUnmaskedFrame
	}

	var key [4]byte
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return frame{}, err
	}
	f.payload = make([]byte, length)
	if _, err := io.ReadFull(r, f.payload); err != nil {
		return frame{}, err
	}
	for i := range f.payload {
		f.payload[i] ^= key[i%4]
	}
	return f, nil
}
