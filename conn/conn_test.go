package conn

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/AgustinSRG/rtmp-client/amf0"
	"github.com/AgustinSRG/rtmp-client/chunk"
	"github.com/AgustinSRG/rtmp-client/rtmp"
)

// peerHarness drives the "other side" of a Connection under test over an
// in-memory net.Pipe, using the same chunk tables the real peer would.
type peerHarness struct {
	t    *testing.T
	conn net.Conn
	out  *chunk.OutboundTable
	in   *chunk.InboundTable
}

func newPeerHarness(t *testing.T, pipeEnd net.Conn) *peerHarness {
	return &peerHarness{t: t, conn: pipeEnd, out: chunk.NewOutboundTable(), in: chunk.NewInboundTable()}
}

func (p *peerHarness) send(csid uint32, msg rtmp.Message) {
	t := p.t
	t.Helper()
	wire, err := p.out.Serialize(csid, msg)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if _, err := p.conn.Write(wire); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readMessage blocks (with a generous deadline) until the peer side has
// assembled one full message from the Connection under test.
func (p *peerHarness) readMessage() *rtmp.Message {
	t := p.t
	t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 0, 256)
	tmp := make([]byte, 4096)
	for {
		msg, consumed, needMore, err := p.in.Step(buf)
		if err != nil {
			t.Fatalf("peer parse: %v", err)
		}
		if needMore == 0 {
			buf = buf[consumed:]
			if msg != nil {
				return msg
			}
			continue
		}
		n, err := p.conn.Read(tmp)
		if err != nil {
			t.Fatalf("peer read: %v", err)
		}
		buf = append(buf, tmp[:n]...)
	}
}

func windowAckMessage(size uint32) rtmp.Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, size)
	return rtmp.Message{Type: rtmp.TypeWindowAckSize, MStream: 0, Payload: payload}
}

func TestWindowAckSizeTriggersAcknowledgement(t *testing.T) {
	clientSide, peerSide := net.Pipe()
	defer clientSide.Close()
	defer peerSide.Close()

	c := New(clientSide, Config{}, Signals{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	peer := newPeerHarness(t, peerSide)
	peer.send(rtmp.ProtocolControlChunkStream, windowAckMessage(100))

	payload := make([]byte, 40)
	for i := 0; i < 3; i++ {
		peer.send(6, rtmp.Message{Type: rtmp.TypeAudio, MStream: 1, Timestamp: int64(i * 10), Payload: payload})
	}

	msg := peer.readMessage()
	if msg.Type != rtmp.TypeAck {
		t.Fatalf("expected an Acknowledgement message, got type %d", msg.Type)
	}
	if len(msg.Payload) < 4 {
		t.Fatalf("ack payload too short: %v", msg.Payload)
	}
	got := binary.BigEndian.Uint32(msg.Payload)
	if got < 100 {
		t.Fatalf("ack param %d, want >= window size 100", got)
	}
}

func TestAckRolloverRecoversUnwrappedTotal(t *testing.T) {
	c := New(nil, Config{}, Signals{})

	send := func(field uint32) {
		payload := make([]byte, 4)
		binary.BigEndian.PutUint32(payload, field)
		if err := c.handleAck(rtmp.Message{Type: rtmp.TypeAck, Payload: payload}); err != nil {
			t.Fatalf("handleAck: %v", err)
		}
	}

	send(1<<32 - 100)
	if c.outAckTotal() != uint64(1<<32-100) {
		t.Fatalf("got %d, want %d", c.outAckTotal(), uint64(1<<32-100))
	}

	// Wire value wraps back around past zero: the high word must advance.
	send(50)
	want := uint64(1)<<32 + 50
	if c.outAckTotal() != want {
		t.Fatalf("got %d, want %d", c.outAckTotal(), want)
	}
}

func TestSetPeerBandwidthEchoesWindowAckSize(t *testing.T) {
	clientSide, peerSide := net.Pipe()
	defer clientSide.Close()
	defer peerSide.Close()

	c := New(clientSide, Config{}, Signals{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	peer := newPeerHarness(t, peerSide)
	payload := make([]byte, 5)
	binary.BigEndian.PutUint32(payload[0:4], 2_500_000)
	payload[4] = 2 // dynamic
	peer.send(rtmp.ProtocolControlChunkStream, rtmp.Message{Type: rtmp.TypeSetPeerBandwidth, MStream: 0, Payload: payload})

	msg := peer.readMessage()
	if msg.Type != rtmp.TypeWindowAckSize {
		t.Fatalf("expected Window Ack Size reply, got type %d", msg.Type)
	}
	got := binary.BigEndian.Uint32(msg.Payload)
	if got != 2_500_000 {
		t.Fatalf("echoed bandwidth = %d, want 2500000", got)
	}

	if !c.havePeerLimitType || c.peerLimitType != 2 {
		t.Fatalf("peer limit type not recorded: have=%v type=%d", c.havePeerLimitType, c.peerLimitType)
	}
}

func TestTransactionResolvedByResult(t *testing.T) {
	clientSide, peerSide := net.Pipe()
	defer clientSide.Close()
	defer peerSide.Close()

	c := New(clientSide, Config{}, Signals{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	peer := newPeerHarness(t, peerSide)
	go func() {
		connectMsg := peer.readMessage()
		cmd, err := amf0.ParseCommand(connectMsg.Payload)
		if err != nil {
			t.Errorf("peer parsing connect command: %v", err)
			return
		}
		reply := amf0.EncodeCommand(amf0.Command{
			Name:          "_result",
			TransactionID: cmd.TransactionID,
			Args:          []amf0.Value{amf0.Object()},
		})
		peer.send(3, rtmp.Message{Type: rtmp.TypeCommandAmf0, MStream: 0, Payload: reply})
	}()

	tr, err := c.SendCommand(3, 0, "connect", amf0.Object())
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	select {
	case res := <-tr.Done():
		if res.Err != nil {
			t.Fatalf("transaction errored: %v", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting on transaction; result delivery wiring is broken")
	}
}
