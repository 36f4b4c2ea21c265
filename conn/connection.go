// Package conn implements the single-threaded cooperative connection I/O
// loop: chunk-level read/write scheduling, flow control, and transaction
// and expected-command dispatch, sitting between the raw chunk-stream
// engine and the client choreography.
package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AgustinSRG/rtmp-client/chunk"
	"github.com/AgustinSRG/rtmp-client/rtmp"
	"github.com/AgustinSRG/rtmp-client/rtmperr"
	"github.com/AgustinSRG/rtmp-client/rtmplog"
)

// Config controls timeouts and queue sizing for a Connection.
type Config struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	OutboundQueueSize int

	// NoEOFIsError selects what a clean remote close (io.EOF with no
	// RTMP-level error), or a read that hits ReadTimeout (the player's
	// idle timeout), means to the caller: false maps it to a plain
	// io.EOF (end of stream, not a failure); true promotes it to
	// ErrConnectionClosed. Player-only per the element's configuration
	// surface, but honored regardless of mode.
	NoEOFIsError bool
}

func (c Config) withDefaults() Config {
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = 256
	}
	return c
}

// Signals are the observer hooks the connection's owner registers before
// calling Run. All of them are invoked from the loop goroutine.
type Signals struct {
	// OnMessage receives every inbound message that is not protocol
	// control, user control, or a command consumed internally: Audio,
	// Video, DataAmf0, other message types, and the expanded sub-messages
	// of an Aggregate. A command that matches no pending transaction or
	// expected command (other than _result/_error) is also delivered
	// here, re-encoded as a CommandAmf0 message.
	OnMessage func(rtmp.Message)
	// OnStreamControl fires for StreamBegin/Eof/Dry/IsRecorded user
	// control events.
	OnStreamControl func(eventType rtmp.UserControlEventType, mstream uint32)
	// OnError fires exactly once, the first time the connection errors.
	OnError func(error)
	// OnOutputReady fires just before an outbound message is serialized
	// and written, letting a publisher refill its queue.
	OnOutputReady func(csid uint32)
}

type outboundItem struct {
	csid           uint32
	msg            rtmp.Message
	pendingChunkSz *uint32 // staged OutboundTable chunk size, promoted after write
}

type readEvent struct {
	consumed int
	msg      *rtmp.Message
}

// Connection owns one TCP (or TLS) stream after a completed handshake. Its
// chunk tables, transaction list, and expected-command list are mutated
// only from the goroutine running Run; QueueMessage and SendCommand are
// the thread-safe entry points external callers use instead. SendCommand,
// RegisterExpectedCommand, and Close marshal their state mutations onto
// the Run loop goroutine via requests rather than taking a lock, per the
// single-threaded-cooperative ownership rule the rest of this package
// follows.
type Connection struct {
	id uint64

	rw  net.Conn
	cfg Config
	sig Signals

	in  *chunk.InboundTable
	out *chunk.OutboundTable

	inWindowAckSize uint32
	inBytesTotal    uint64
	inBytesAcked    uint64

	outBytesTotal     uint64
	haveOutAck        bool
	outAckLow32       uint32
	outAckHigh32      uint32
	peerLimitType     byte
	havePeerLimitType bool

	outboundCh chan outboundItem
	requests   chan func()
	stopped    chan struct{}

	transactions []*Transaction
	expected     []*ExpectedCommand
	nextTxnID    float64

	errored bool

	statsMu sync.Mutex
	stats   Stats
}

var nextConnID uint64

// Stats is a snapshot of counters safe to read from any goroutine.
type Stats struct {
	InBytesTotal  uint64
	OutBytesTotal uint64
}

// New wraps rw (already past the handshake) as a Connection.
func New(rw net.Conn, cfg Config, sig Signals) *Connection {
	cfg = cfg.withDefaults()
	return &Connection{
		id:         atomic.AddUint64(&nextConnID, 1),
		rw:         rw,
		cfg:        cfg,
		sig:        sig,
		in:         chunk.NewInboundTable(),
		out:        chunk.NewOutboundTable(),
		outboundCh: make(chan outboundItem, cfg.OutboundQueueSize),
		requests:   make(chan func(), 32),
		stopped:    make(chan struct{}),
		nextTxnID:  1,
	}
}

// RemoteAddr returns the address of the peer this connection is talking to.
func (c *Connection) RemoteAddr() string {
	return c.rw.RemoteAddr().String()
}

// runOnLoop submits fn to run on the Run loop goroutine and blocks until it
// completes, serializing it with dispatch, writeOne, and every other
// loop-owned mutation of transactions/expected/nextTxnID. If the loop has
// already stopped, fn runs synchronously on the calling goroutine instead:
// safe, because fail has already cancelled every pending transaction and
// nothing else touches this connection's state once Run has returned.
func (c *Connection) runOnLoop(fn func()) {
	done := make(chan struct{})
	select {
	case c.requests <- func() { fn(); close(done) }:
	case <-c.stopped:
		rtmplog.DebugSession(c.id, c.rw.RemoteAddr().String(), "command submitted after the loop stopped; running inline")
		fn()
		return
	}
	select {
	case <-done:
	case <-c.stopped:
	}
}

// Stats returns a snapshot of the connection's byte counters.
func (c *Connection) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Connection) updateStats() {
	c.statsMu.Lock()
	c.stats.InBytesTotal = c.inBytesTotal
	c.stats.OutBytesTotal = c.outBytesTotal
	c.statsMu.Unlock()
}

// QueueMessage submits msg for serialization and writing on csid. It is
// safe to call from any goroutine, as are QueueChunkSize, SendCommand,
// RegisterExpectedCommand, and Close.
func (c *Connection) QueueMessage(csid uint32, msg rtmp.Message) {
	msg.CStream = csid
	c.outboundCh <- outboundItem{csid: csid, msg: msg}
}

// QueueChunkSize submits a Set Chunk Size protocol-control message and
// stages the new outbound chunk size to take effect only once that message
// has actually been written, per the client's own pending/promote rule.
func (c *Connection) QueueChunkSize(n uint32) error {
	if n < 1 || n > 1<<31-1 {
		return fmt.Errorf("conn: chunk size %d: %w", n, rtmperr.ErrInvalidData)
	}
	payload := make([]byte, 4)
	putU32(payload, n)
	nCopy := n
	c.outboundCh <- outboundItem{
		csid:           rtmp.ProtocolControlChunkStream,
		msg:            rtmp.Message{Type: rtmp.TypeSetChunkSize, CStream: rtmp.ProtocolControlChunkStream, MStream: 0, Payload: payload},
		pendingChunkSz: &nCopy,
	}
	return nil
}

// Run drives the connection's I/O loop until ctx is cancelled or an
// unrecoverable error occurs. It blocks; callers typically run it in its
// own goroutine.
func (c *Connection) Run(ctx context.Context) error {
	defer close(c.stopped)

	rtmplog.Session(c.id, c.rw.RemoteAddr().String(), "loop started")

	readCh := make(chan readEvent, 64)
	errCh := make(chan error, 1)
	go c.readLoop(ctx, readCh, errCh)

	for {
		select {
		case <-ctx.Done():
			c.fail(rtmperr.ErrCancelled)
			return ctx.Err()
		case err := <-errCh:
			c.fail(err)
			return err
		case ev := <-readCh:
			c.handleReadEvent(ev)
		case item := <-c.outboundCh:
			if err := c.writeOne(item); err != nil {
				c.fail(err)
				return err
			}
		case fn := <-c.requests:
			fn()
		}
	}
}

func (c *Connection) readLoop(ctx context.Context, evCh chan<- readEvent, errCh chan<- error) {
	var buf []byte
	tmp := make([]byte, 64*1024)

	for {
		if c.cfg.ReadTimeout > 0 {
			_ = c.rw.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		n, err := c.rw.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				msg, consumed, needMore, serr := c.in.Step(buf)
				if serr != nil {
					sendOnce(errCh, fmt.Errorf("conn: chunk stream: %w", serr))
					return
				}
				if needMore > 0 {
					break
				}
				buf = buf[consumed:]
				select {
				case evCh <- readEvent{consumed: consumed, msg: msg}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			var ne net.Error
			idle := c.cfg.ReadTimeout > 0 && errors.As(err, &ne) && ne.Timeout()
			if err == io.EOF || idle {
				if c.cfg.NoEOFIsError {
					sendOnce(errCh, rtmperr.ErrConnectionClosed)
				} else {
					sendOnce(errCh, io.EOF)
				}
			} else {
				sendOnce(errCh, fmt.Errorf("conn: read: %w", err))
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func sendOnce(ch chan<- error, err error) {
	select {
	case ch <- err:
	default:
	}
}

func (c *Connection) handleReadEvent(ev readEvent) {
	c.inBytesTotal += uint64(ev.consumed)
	c.updateStats()
	c.maybeSendAck()
	if ev.msg != nil {
		c.dispatch(*ev.msg)
	}
}

func (c *Connection) writeOne(item outboundItem) error {
	if c.sig.OnOutputReady != nil {
		c.sig.OnOutputReady(item.csid)
	}
	wire, err := c.out.Serialize(item.csid, item.msg)
	if err != nil {
		rtmplog.Warning("conn: dropping outbound message that failed to serialize: %v", err)
		return nil
	}
	if c.cfg.WriteTimeout > 0 {
		_ = c.rw.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if _, err := c.rw.Write(wire); err != nil {
		return fmt.Errorf("conn: write: %w", err)
	}
	c.outBytesTotal += uint64(len(wire))
	c.updateStats()

	if item.pendingChunkSz != nil {
		if err := c.out.SetChunkSize(*item.pendingChunkSz); err != nil {
			rtmplog.Warning("conn: promoting outbound chunk size: %v", err)
		}
	}
	return nil
}

// sendControl writes a protocol/user-control message immediately, bypassing
// the application-facing outbound queue: these are time-critical replies
// the loop itself originates, not caller-submitted media.
func (c *Connection) sendControl(msgType rtmp.MessageType, payload []byte) error {
	msg := rtmp.Message{Type: msgType, CStream: rtmp.ProtocolControlChunkStream, MStream: 0, Payload: payload}
	wire, err := c.out.Serialize(rtmp.ProtocolControlChunkStream, msg)
	if err != nil {
		return fmt.Errorf("conn: serializing control message: %w", err)
	}
	if c.cfg.WriteTimeout > 0 {
		_ = c.rw.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if _, err := c.rw.Write(wire); err != nil {
		return fmt.Errorf("conn: writing control message: %w", err)
	}
	c.outBytesTotal += uint64(len(wire))
	c.updateStats()
	return nil
}

// fail puts the connection into its sticky errored state: every pending
// transaction and expected command fires its synthetic cancellation
// exactly once, OnError fires exactly once, and further errors are
// swallowed.
func (c *Connection) fail(err error) {
	if c.errored {
		return
	}
	c.errored = true
	rtmplog.Session(c.id, c.rw.RemoteAddr().String(), "failing: %v", err)
	c.cancelAllPending()
	if c.sig.OnError != nil {
		c.sig.OnError(err)
	}
}

// Close idempotently tears the connection down, cancelling pending work
// the same way a terminal error would. Safe to call from any goroutine:
// the state mutation in fail runs on the loop goroutine via runOnLoop, so
// it never races dispatch's resolveTransaction/resolveExpectedCommand.
func (c *Connection) Close() error {
	c.runOnLoop(func() { c.fail(rtmperr.ErrConnectionClosed) })
	return c.rw.Close()
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
