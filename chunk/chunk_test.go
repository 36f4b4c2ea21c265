package chunk

import (
	"bytes"
	"testing"

	"github.com/AgustinSRG/rtmp-client/rtmp"
)

func parseAll(t *testing.T, table *InboundTable, buf []byte) []*rtmp.Message {
	t.Helper()
	var out []*rtmp.Message
	for len(buf) > 0 {
		msg, consumed, needMore, err := table.Step(buf)
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if needMore > 0 {
			t.Fatalf("Step unexpectedly needs more data (%d bytes) with %d bytes left", needMore, len(buf))
		}
		if msg != nil {
			out = append(out, msg)
		}
		buf = buf[consumed:]
	}
	return out
}

func TestSerializeParseRoundTrip(t *testing.T) {
	out := NewOutboundTable()
	msg := rtmp.Message{
		Type:      rtmp.TypeAudio,
		CStream:   5,
		MStream:   1,
		Timestamp: 1000,
		Payload:   bytes.Repeat([]byte{0xAB}, 300),
	}

	wire, err := out.Serialize(5, msg)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	in := NewInboundTable()
	msgs := parseAll(t, in, wire)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	got := msgs[0]
	if got.Type != msg.Type || got.MStream != msg.MStream {
		t.Fatalf("got %+v, want type/mstream to match %+v", got, msg)
	}
	if !bytes.Equal(got.Payload, msg.Payload) {
		t.Fatalf("payload mismatch: got %d bytes, want %d bytes", len(got.Payload), len(msg.Payload))
	}
	if got.Timestamp != msg.Timestamp {
		t.Fatalf("got timestamp %d, want %d", got.Timestamp, msg.Timestamp)
	}
}

func TestHeaderDownPromotion(t *testing.T) {
	out := NewOutboundTable()
	m1 := rtmp.Message{Type: rtmp.TypeAudio, MStream: 1, Timestamp: 40, Payload: bytes.Repeat([]byte{1}, 100)}
	m2 := rtmp.Message{Type: rtmp.TypeAudio, MStream: 1, Timestamp: 80, Payload: bytes.Repeat([]byte{1}, 100)}

	w1, err := out.Serialize(5, m1)
	if err != nil {
		t.Fatalf("serialize m1: %v", err)
	}
	// type 0, basic header 1 byte (csid=5 fits inline) + 11-byte message header
	wantFmt0 := byte(0)<<6 | 5
	if w1[0] != wantFmt0 {
		t.Fatalf("m1 basic header byte = 0x%02x, want 0x%02x (type 0)", w1[0], wantFmt0)
	}

	w2, err := out.Serialize(5, m2)
	if err != nil {
		t.Fatalf("serialize m2: %v", err)
	}
	wantFmt3 := byte(3)<<6 | 5
	if w2[0] != wantFmt3 {
		t.Fatalf("m2 basic header byte = 0x%02x, want 0x%02x (type 3)", w2[0], wantFmt3)
	}
	if len(w2) != 1+len(m2.Payload) {
		t.Fatalf("m2 wire length = %d, want basic header (1) + payload (%d)", len(w2), len(m2.Payload))
	}

	in := NewInboundTable()
	msgs := parseAll(t, in, append(append([]byte{}, w1...), w2...))
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Timestamp != 40 || msgs[1].Timestamp != 80 {
		t.Fatalf("got timestamps %d, %d; want 40, 80", msgs[0].Timestamp, msgs[1].Timestamp)
	}
}

func TestChunkStreamIDEncoding(t *testing.T) {
	for _, id := range []uint32{2, 63, 64, 319, 65599} {
		out := NewOutboundTable()
		msg := rtmp.Message{Type: rtmp.TypeVideo, MStream: 2, Timestamp: 5, Payload: []byte{1, 2, 3}}
		wire, err := out.Serialize(id, msg)
		if err != nil {
			t.Fatalf("id %d: Serialize: %v", id, err)
		}
		in := NewInboundTable()
		msgs := parseAll(t, in, wire)
		if len(msgs) != 1 {
			t.Fatalf("id %d: got %d messages, want 1", id, len(msgs))
		}
	}
}

func TestSetChunkSizeValidation(t *testing.T) {
	in := NewInboundTable()
	if err := in.SetChunkSize(0); err == nil {
		t.Fatal("expected an error for chunk size 0")
	}
	if err := in.SetChunkSize(1 << 31); err == nil {
		t.Fatal("expected an error for chunk size >= 2^31")
	}
	if err := in.SetChunkSize(4096); err != nil {
		t.Fatalf("unexpected error for a valid chunk size: %v", err)
	}
	if in.ChunkSize() != 4096 {
		t.Fatalf("ChunkSize() = %d, want 4096", in.ChunkSize())
	}
}

func TestPayloadSplitAcrossChunkSize(t *testing.T) {
	out := NewOutboundTable()
	out.SetChunkSize(64)
	msg := rtmp.Message{Type: rtmp.TypeVideo, MStream: 1, Timestamp: 10, Payload: bytes.Repeat([]byte{0x7A}, 200)}
	wire, err := out.Serialize(4, msg)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	in := NewInboundTable()
	in.SetChunkSize(64)
	msgs := parseAll(t, in, wire)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if !bytes.Equal(msgs[0].Payload, msg.Payload) {
		t.Fatalf("payload mismatch after multi-chunk reassembly")
	}
}
