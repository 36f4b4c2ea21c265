package flv

import (
	"bytes"
	"testing"

	"github.com/AgustinSRG/rtmp-client/rtmp"
)

func buildTag(tagType byte, ts uint32, payload []byte) []byte {
	h := TagHeader{Type: tagType, PayloadSize: uint32(len(payload)), Timestamp: ts}
	out := append([]byte{}, encodeTagHeader(h)...)
	out = append(out, payload...)
	trailer := make([]byte, 4)
	prevSize := h.TotalSize() - prevTagSizeWords
	trailer[0] = byte(prevSize >> 24)
	trailer[1] = byte(prevSize >> 16)
	trailer[2] = byte(prevSize >> 8)
	trailer[3] = byte(prevSize)
	return append(out, trailer...)
}

func TestPublishAdapterConvertsAudioTag(t *testing.T) {
	p := NewPublishAdapter()
	p.SetStreamID(1)
	tag := buildTag(TagAudio, 500, []byte{0xAF, 0x01, 0x02, 0x03})

	msg, cs, ok, isHeader, err := p.Convert(tag)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true for a normal audio tag")
	}
	if isHeader {
		t.Fatal("expected a regular AAC frame to not be flagged as a sequence header")
	}
	if cs != CStreamAudio {
		t.Fatalf("cstream = %d, want %d", cs, CStreamAudio)
	}
	if msg.Type != rtmp.TypeAudio || msg.MStream != 1 || msg.Timestamp != 500 {
		t.Fatalf("got %+v", msg)
	}
	if !bytes.Equal(msg.Payload, []byte{0xAF, 0x01, 0x02, 0x03}) {
		t.Fatalf("payload mismatch: %v", msg.Payload)
	}
}

func TestPublishAdapterDropsFileHeader(t *testing.T) {
	p := NewPublishAdapter()
	fh := encodeFileHeader(true, true)
	_, _, ok, _, err := p.Convert(fh)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a file header buffer")
	}
}

func TestPublishAdapterTimestampWrap(t *testing.T) {
	p := NewPublishAdapter()
	p.SetStreamID(1)

	tag1 := buildTag(TagVideo, 4_000_000_000, []byte{1, 2, 3, 4, 5, 6})
	msg1, _, ok, _, err := p.Convert(tag1)
	if err != nil || !ok {
		t.Fatalf("Convert tag1: ok=%v err=%v", ok, err)
	}
	if msg1.Timestamp != 4_000_000_000 {
		t.Fatalf("msg1 timestamp = %d, want 4000000000", msg1.Timestamp)
	}

	tag2 := buildTag(TagVideo, 100, []byte{1, 2, 3, 4, 5, 6})
	msg2, _, ok, _, err := p.Convert(tag2)
	if err != nil || !ok {
		t.Fatalf("Convert tag2: ok=%v err=%v", ok, err)
	}
	want := int64(4_294_967_296 + 100)
	if msg2.Timestamp != want {
		t.Fatalf("msg2 timestamp = %d, want %d", msg2.Timestamp, want)
	}
}

func TestPublishAdapterCachesAndReplaysSequenceHeaders(t *testing.T) {
	p := NewPublishAdapter()
	p.SetStreamID(1)

	videoHeader := buildTag(TagVideo, 0, []byte{0x17, 0x00, 0, 0, 0, 0x01, 0x42})
	msg, cs, ok, isHeader, err := p.Convert(videoHeader)
	if err != nil || !ok {
		t.Fatalf("Convert video header: ok=%v err=%v", ok, err)
	}
	if !isHeader {
		t.Fatal("expected an AVC sequence header (packet type 0) to be flagged")
	}
	p.CacheStreamHeader(cs, msg)

	audioHeader := buildTag(TagAudio, 0, []byte{0xAF, 0x00, 0x11, 0x90})
	msg, cs, ok, isHeader, err = p.Convert(audioHeader)
	if err != nil || !ok {
		t.Fatalf("Convert audio header: ok=%v err=%v", ok, err)
	}
	if !isHeader {
		t.Fatal("expected an AAC sequence header (packet type 0) to be flagged")
	}
	p.CacheStreamHeader(cs, msg)

	headers := p.StreamHeaders()
	if len(headers) != 2 {
		t.Fatalf("got %d cached headers, want 2", len(headers))
	}
	if headers[0].Message.MStream != 1 || headers[1].Message.MStream != 1 {
		t.Fatal("expected cached headers to carry the adapter's stream id")
	}

	if len(p.StreamHeaders()) != 0 {
		t.Fatal("expected StreamHeaders to clear the cache once drained")
	}
}

func TestSetDataFrame(t *testing.T) {
	msg := rtmp.Message{Type: rtmp.TypeDataAmf0, Payload: []byte("onMetaData-body")}
	wrapped := SetDataFrame(msg)
	if !bytes.HasPrefix(wrapped.Payload, setDataFrameMarker) {
		t.Fatal("expected payload to be prefixed with the @setDataFrame marker")
	}
	if !bytes.HasSuffix(wrapped.Payload, []byte("onMetaData-body")) {
		t.Fatal("expected original payload to follow the marker")
	}
}

func TestPlayAdapterRoundTrip(t *testing.T) {
	p := NewPlayAdapter(7)
	msg := rtmp.Message{Type: rtmp.TypeVideo, MStream: 7, Timestamp: 2000, Payload: []byte{1, 2, 3, 4, 5, 6, 7, 8}}

	buf, ok := p.Convert(msg)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if !bytes.HasPrefix(buf, []byte("FLV")) {
		t.Fatal("expected the first forwarded tag to be prefixed with the FLV file header")
	}

	// Second tag should not repeat the file header.
	msg2 := rtmp.Message{Type: rtmp.TypeVideo, MStream: 7, Timestamp: 2040, Payload: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	buf2, ok := p.Convert(msg2)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if bytes.HasPrefix(buf2, []byte("FLV")) {
		t.Fatal("did not expect a second file header")
	}
}

func TestPlayAdapterFiltersSmallPayloads(t *testing.T) {
	p := NewPlayAdapter(1)
	msg := rtmp.Message{Type: rtmp.TypeVideo, MStream: 1, Timestamp: 0, Payload: []byte{1, 2}}
	_, ok := p.Convert(msg)
	if ok {
		t.Fatal("expected a too-small video payload to be filtered")
	}
}

func TestExpandAggregate(t *testing.T) {
	audio := buildTag(TagAudio, 1000, []byte{0xAF, 0x01})
	video := buildTag(TagVideo, 1015, []byte{0x17, 0x01, 0, 0, 0})
	agg := rtmp.Message{Type: rtmp.TypeAggregate, MStream: 3, Timestamp: 5000, Payload: append(audio, video...)}

	msgs, err := ExpandAggregate(agg)
	if err != nil {
		t.Fatalf("ExpandAggregate: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Timestamp != 5000 {
		t.Fatalf("first sub-message timestamp = %d, want 5000", msgs[0].Timestamp)
	}
	if msgs[1].Timestamp != 5015 {
		t.Fatalf("second sub-message timestamp = %d, want 5015", msgs[1].Timestamp)
	}
	if !msgs[0].Discont {
		t.Fatal("expected the first sub-message to carry Discont")
	}
	if msgs[1].Discont {
		t.Fatal("expected the second sub-message to not carry Discont")
	}
}
