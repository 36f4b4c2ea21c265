package conn

import (
	"encoding/binary"
	"fmt"

	"github.com/AgustinSRG/rtmp-client/rtmp"
	"github.com/AgustinSRG/rtmp-client/rtmperr"
	"github.com/AgustinSRG/rtmp-client/rtmplog"
)

// maybeSendAck emits an Acknowledgement once the bytes read since the last
// one reach the peer-negotiated window ack size. A window of 0 means no
// window has been negotiated yet and acks are never sent.
func (c *Connection) maybeSendAck() {
	if c.inWindowAckSize == 0 {
		return
	}
	if c.inBytesTotal-c.inBytesAcked < uint64(c.inWindowAckSize) {
		return
	}
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(c.inBytesTotal))
	if err := c.sendControl(rtmp.TypeAck, payload); err != nil {
		rtmplog.Warning("conn: sending acknowledgement: %v", err)
		return
	}
	c.inBytesAcked = c.inBytesTotal
}

// handleWindowAckSize applies a peer Window Acknowledgement Size message.
func (c *Connection) handleWindowAckSize(msg rtmp.Message) error {
	if len(msg.Payload) < 4 {
		return fmt.Errorf("conn: window ack size message: %w", rtmperr.ErrPartialInput)
	}
	c.inWindowAckSize = binary.BigEndian.Uint32(msg.Payload)
	return nil
}

// handleSetPeerBandwidth records the peer's bandwidth limit and limit type.
// Per the peer-bandwidth limit-type pass-through policy, the client does
// not reinterpret "dynamic" against its own last-sent limit type; it simply
// stores whatever the peer most recently asserted and echoes it back as a
// Window Acknowledgement Size equal to the same bandwidth value, which is
// the conventional client reply to this message.
func (c *Connection) handleSetPeerBandwidth(msg rtmp.Message) error {
	if len(msg.Payload) < 5 {
		return fmt.Errorf("conn: set peer bandwidth message: %w", rtmperr.ErrPartialInput)
	}
	bandwidth := binary.BigEndian.Uint32(msg.Payload[0:4])
	limitType := msg.Payload[4]

	c.peerLimitType = limitType
	c.havePeerLimitType = true

	ackPayload := make([]byte, 4)
	binary.BigEndian.PutUint32(ackPayload, bandwidth)
	return c.sendControl(rtmp.TypeWindowAckSize, ackPayload)
}

// handleAck applies a peer Acknowledgement, tracking the 64-bit unwrapped
// total across the 32-bit wire field's rollovers. A wire value lower than
// the last one seen within the same high-word generation means the 32-bit
// counter wrapped, so the high word advances by one.
func (c *Connection) handleAck(msg rtmp.Message) error {
	if len(msg.Payload) < 4 {
		return fmt.Errorf("conn: acknowledgement message: %w", rtmperr.ErrPartialInput)
	}
	field := binary.BigEndian.Uint32(msg.Payload)

	if !c.haveOutAck {
		c.haveOutAck = true
		c.outAckLow32 = field
		return nil
	}
	if field < c.outAckLow32 {
		c.outAckHigh32++
	}
	c.outAckLow32 = field
	return nil
}

// outAckTotal returns the unwrapped 64-bit count of bytes the peer has
// acknowledged receiving.
func (c *Connection) outAckTotal() uint64 {
	return uint64(c.outAckHigh32)<<32 | uint64(c.outAckLow32)
}
