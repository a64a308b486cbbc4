package websocket

import "testing"

func TestParseFrameMaskedClientFrame(t *testing.T) {
	payload := []byte("abc")
	maskKey := [4]byte{0x01, 0x02, 0x03, 0x04}
	wire := BuildFrame(OpText, payload, true, true, maskKey)

	frame, n, err := ParseFrame(wire)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if n != len(wire) {
		t.Fatalf("consumed %d bytes, want %d", n, len(wire))
	}
	if !frame.Fin {
		t.Fatal("expected FIN set")
	}
	if frame.Opcode != OpText {
		t.Fatalf("opcode = %v, want OpText", frame.Opcode)
	}
	if string(frame.Payload) != "abc" {
		t.Fatalf("payload = %q, want %q", frame.Payload, "abc")
	}
}

func TestParseFrameIncomplete(t *testing.T) {
	wire := BuildFrame(OpBinary, []byte("hello world"), true, false, [4]byte{})
	_, _, err := ParseFrame(wire[:3])
	if err == nil {
		t.Fatal("expected errNeedMore for a truncated frame")
	}
}

func TestParseFrameExtendedLength(t *testing.T) {
	payload := make([]byte, 70000)
	for i := range payload {
		payload[i] = byte(i)
	}
	wire := BuildFrame(OpBinary, payload, true, false, [4]byte{})

	frame, n, err := ParseFrame(wire)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if n != len(wire) {
		t.Fatalf("consumed %d bytes, want %d", n, len(wire))
	}
	if len(frame.Payload) != len(payload) {
		t.Fatalf("payload length = %d, want %d", len(frame.Payload), len(payload))
	}
}

func TestBuildFrameUnmaskedRoundTrip(t *testing.T) {
	wire := BuildFrame(OpPing, nil, true, false, [4]byte{})
	frame, _, err := ParseFrame(wire)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if frame.Opcode != OpPing || len(frame.Payload) != 0 {
		t.Fatalf("unexpected ping frame: %+v", frame)
	}
}
