package websocket

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
)

// maskedFrame builds a client-to-server frame the way a browser would.
func maskedFrame(fin bool, opcode byte, payload []byte) []byte {
	var buf bytes.Buffer
	b0 := opcode
	if fin {
		b0 |= finBit
	}
	buf.WriteByte(b0)
	switch n := len(payload); {
	case n <= MaxShortPayload:
		buf.WriteByte(maskBit | byte(n))
	case n <= 0xFFFF:
		buf.WriteByte(maskBit | 126)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(n))
		buf.Write(ext[:])
	default:
		buf.WriteByte(maskBit | 127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		buf.Write(ext[:])
	}
	key := [4]byte{0x37, 0xfa, 0x21, 0x3d}
	buf.Write(key[:])
	for i, b := range payload {
		buf.WriteByte(b ^ key[i%4])
	}
	return buf.Bytes()
}

func TestEncodeTextFrame_Reload(t *testing.T) {
	got, err := EncodeTextFrame("reload")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0x81, 0x06, 'r', 'e', 'l', 'o', 'a', 'd'}
	if !bytes.Equal(got, want) {
		t.Errorf("expected % x, got % x", want, got)
	}
}

func TestEncodeTextFrame_RebuildStarted(t *testing.T) {
	got, err := EncodeTextFrame("rebuild_started")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2+len("rebuild_started") {
		t.Fatalf("expected length %d, got %d", 2+len("rebuild_started"), len(got))
	}
	if got[0] != 0x81 || got[1] != 15 {
		t.Errorf("unexpected header % x", got[:2])
	}
	if string(got[2:]) != "rebuild_started" {
		t.Errorf("unexpected payload %q", got[2:])
	}
}

func TestEncodeTextFrame_UsesUTF8ByteLength(t *testing.T) {
	got, err := EncodeTextFrame("héllo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[1] != 6 {
		t.Errorf("expected byte length 6, got %d", got[1])
	}
}

func TestEncodeTextFrame_Empty(t *testing.T) {
	got, err := EncodeTextFrame("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, []byte{0x81, 0x00}) {
		t.Errorf("expected 81 00, got % x", got)
	}
}

func TestEncodeTextFrame_LengthLimit(t *testing.T) {
	if _, err := EncodeTextFrame(strings.Repeat("a", MaxShortPayload)); err != nil {
		t.Errorf("125 bytes should encode, got %v", err)
	}
	if _, err := EncodeTextFrame(strings.Repeat("a", MaxShortPayload+1)); !errors.Is(err, ErrPayloadTooLong) {
		t.Errorf("expected ErrPayloadTooLong, got %v", err)
	}
}

func TestReadFrame_UnmasksPayload(t *testing.T) {
	f, err := readFrame(bytes.NewReader(maskedFrame(true, opText, []byte("hello"))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.fin || f.opcode != opText || string(f.payload) != "hello" {
		t.Errorf("unexpected frame %+v", f)
	}
}

func TestReadFrame_ExtendedLength(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 300)
	f, err := readFrame(bytes.NewReader(maskedFrame(true, opBinary, payload)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(f.payload, payload) {
		t.Errorf("payload mismatch, got %d bytes", len(f.payload))
	}
}

func TestReadFrame_RejectsUnmasked(t *testing.T) {
	_, err := readFrame(bytes.NewReader([]byte{0x81, 0x02, 'h', 'i'}))
	if !errors.Is(err, ErrUnmaskedFrame) {
		t.Errorf("expected ErrUnmaskedFrame, got %v", err)
	}
}

func TestReadFrame_RejectsOversizedFrame(t *testing.T) {
	hdr := []byte{0x82, maskBit | 127, 0, 0, 0, 0, 0x10, 0, 0, 0}
	_, err := readFrame(bytes.NewReader(hdr))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrame_RejectsFragmentedControl(t *testing.T) {
	_, err := readFrame(bytes.NewReader(maskedFrame(false, opPing, nil)))
	if !errors.Is(err, ErrBadControlFrame) {
		t.Errorf("expected ErrBadControlFrame, got %v", err)
	}
}

func TestReadFrame_EOF(t *testing.T) {
	if _, err := readFrame(bytes.NewReader(nil)); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
	if _, err := readFrame(bytes.NewReader([]byte{0x81})); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF for a truncated header, got %v", err)
	}
}

func TestEncodeControlFrame_TruncatesPayload(t *testing.T) {
	got := encodeControlFrame(opClose, bytes.Repeat([]byte("x"), 200))
	if got[0] != 0x88 || got[1] != MaxShortPayload || len(got) != 2+MaxShortPayload {
		t.Errorf("unexpected control frame header % x len %d", got[:2], len(got))
	}
}
