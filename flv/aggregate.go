package flv

import (
	"fmt"

	"github.com/AgustinSRG/rtmp-client/rtmperr"
	"github.com/AgustinSRG/rtmp-client/rtmp"
)

// ExpandAggregate demultiplexes an Aggregate message's payload, a packed
// stream of FLV sub-tags, into individual RTMP messages. Each sub-tag's
// timestamp is rebased onto the aggregate message's own DTS: the first
// sub-tag keeps it exactly, later ones are offset by the sub-tag's own
// timestamp delta relative to the first sub-tag. Only the first result
// carries Discont set.
func ExpandAggregate(agg rtmp.Message) ([]rtmp.Message, error) {
	var out []rtmp.Message
	buf := agg.Payload
	var firstSubTS int64
	haveFirst := false

	for len(buf) > 0 {
		h, err := parseTagHeader(buf)
		if err != nil {
			return nil, fmt.Errorf("flv: aggregate sub-tag: %w", err)
		}
		total := h.TotalSize()
		if uint32(len(buf)) < total {
			return nil, fmt.Errorf("flv: aggregate sub-tag payload: %w", rtmperr.ErrPartialInput)
		}

		msgType, _, known := messageTypeForTag(h.Type)
		if !known {
			return nil, fmt.Errorf("flv: aggregate sub-tag: %w: unsupported tag type %d", rtmperr.ErrInvalidData, h.Type)
		}

		subTS := int64(h.Timestamp)
		if !haveFirst {
			firstSubTS = subTS
			haveFirst = true
		}

		payload := buf[tagHeaderSize : tagHeaderSize+h.PayloadSize]
		out = append(out, rtmp.Message{
			Type:      msgType,
			MStream:   agg.MStream,
			Timestamp: agg.Timestamp + (subTS - firstSubTS),
			Payload:   append([]byte(nil), payload...),
			Discont:   len(out) == 0,
		})

		buf = buf[total:]
	}

	return out, nil
}
