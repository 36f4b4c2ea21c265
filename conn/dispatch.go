package conn

import (
	"github.com/AgustinSRG/rtmp-client/amf0"
	"github.com/AgustinSRG/rtmp-client/flv"
	"github.com/AgustinSRG/rtmp-client/rtmp"
	"github.com/AgustinSRG/rtmp-client/rtmplog"
)

// messageFor builds the Message envelope for an AMF0 command payload
// addressed to mstream.
func messageFor(mstream uint32, payload []byte) rtmp.Message {
	return rtmp.Message{Type: rtmp.TypeCommandAmf0, MStream: mstream, Payload: payload}
}

// dispatch routes one fully reassembled inbound message: protocol control
// and user control are handled here directly, commands are matched against
// pending transactions/expected commands, Aggregate is expanded into its
// sub-messages, and everything else is forwarded to OnMessage.
func (c *Connection) dispatch(msg rtmp.Message) {
	switch msg.Type {
	case rtmp.TypeSetChunkSize:
		if len(msg.Payload) < 4 {
			rtmplog.Warning("conn: truncated set chunk size message")
			return
		}
		n := u32(msg.Payload)
		if err := c.in.SetChunkSize(n); err != nil {
			rtmplog.Warning("conn: %v", err)
		}
	case rtmp.TypeAbort:
		if len(msg.Payload) < 4 {
			rtmplog.Warning("conn: truncated abort message")
			return
		}
		c.in.Abort(u32(msg.Payload))
	case rtmp.TypeAck:
		if err := c.handleAck(msg); err != nil {
			rtmplog.Warning("conn: %v", err)
		}
	case rtmp.TypeWindowAckSize:
		if err := c.handleWindowAckSize(msg); err != nil {
			rtmplog.Warning("conn: %v", err)
		}
	case rtmp.TypeSetPeerBandwidth:
		if err := c.handleSetPeerBandwidth(msg); err != nil {
			rtmplog.Warning("conn: %v", err)
		}
	case rtmp.TypeUserControl:
		c.dispatchUserControl(msg)
	case rtmp.TypeCommandAmf0:
		c.dispatchCommand(msg)
	case rtmp.TypeAggregate:
		subs, err := flv.ExpandAggregate(msg)
		if err != nil {
			rtmplog.Warning("conn: expanding aggregate message: %v", err)
			return
		}
		for _, sub := range subs {
			c.forward(sub)
		}
	default:
		c.forward(msg)
	}
}

func (c *Connection) forward(msg rtmp.Message) {
	if c.sig.OnMessage != nil {
		c.sig.OnMessage(msg)
	}
}

func (c *Connection) dispatchUserControl(msg rtmp.Message) {
	if len(msg.Payload) < 2 {
		rtmplog.Warning("conn: truncated user control message")
		return
	}
	eventType := rtmp.UserControlEventType(u16(msg.Payload))
	body := msg.Payload[2:]

	switch eventType {
	case rtmp.UserControlPingRequest:
		if len(body) < 4 {
			rtmplog.Warning("conn: truncated ping request")
			return
		}
		reply := make([]byte, 6)
		putU16(reply, uint16(rtmp.UserControlPingResponse))
		copy(reply[2:], body[:4])
		if err := c.sendControl(rtmp.TypeUserControl, reply); err != nil {
			rtmplog.Warning("conn: replying to ping request: %v", err)
		}
	case rtmp.UserControlStreamBegin, rtmp.UserControlStreamEOF, rtmp.UserControlStreamDry, rtmp.UserControlStreamIsRecorded:
		if len(body) < 4 {
			rtmplog.Warning("conn: truncated user control event %d", eventType)
			return
		}
		if c.sig.OnStreamControl != nil {
			c.sig.OnStreamControl(eventType, u32(body))
		}
	}
}

func (c *Connection) dispatchCommand(msg rtmp.Message) {
	cmd, err := amf0.ParseCommand(msg.Payload)
	if err != nil {
		rtmplog.Warning("conn: %v", err)
		return
	}

	switch cmd.Name {
	case "_result", "_error":
		if c.resolveTransaction(cmd.TransactionID, cmd.Name == "_result", cmd.Args) {
			return
		}
		rtmplog.Warning("conn: %s for unknown transaction id %v", cmd.Name, cmd.TransactionID)
	case "onStatus", "onMetaData":
		if c.resolveExpectedCommand(msg.MStream, cmd.Name, cmd.Args) {
			return
		}
		c.forwardCommand(msg.MStream, cmd)
	default:
		c.forwardCommand(msg.MStream, cmd)
	}
}

// forwardCommand is the fallback for commands nothing is waiting on
// (server-initiated notifications the caller didn't register interest in).
func (c *Connection) forwardCommand(mstream uint32, cmd amf0.Command) {
	if c.sig.OnMessage == nil {
		return
	}
	c.sig.OnMessage(rtmp.Message{
		Type:    rtmp.TypeCommandAmf0,
		MStream: mstream,
		Payload: amf0.EncodeCommand(cmd),
	})
}

func u16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func u32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
func putU16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}
