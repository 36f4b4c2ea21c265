package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/AgustinSRG/rtmp-client/amf0"
	"github.com/AgustinSRG/rtmp-client/conn"
	"github.com/AgustinSRG/rtmp-client/rtmp"
	"github.com/AgustinSRG/rtmp-client/rtmperr"
	"github.com/AgustinSRG/rtmp-client/rtmplog"
)

// commandChunkStream is the chunk stream application commands travel on,
// distinct from the protocol-control stream (2) and the media streams.
const commandChunkStream = 3

// Mode selects whether the session publishes or plays the stream.
type Mode int

const (
	ModePublish Mode = iota
	ModePlay
)

// Dialer opens the transport (TCP, optionally wrapped in TLS) and runs the
// handshake, returning a ready-to-use Connection. Kept as a function type so
// the adobe-auth retry path can re-dial without this package depending on
// net/tls directly.
type Dialer func(ctx context.Context, loc Location) (*conn.Connection, error)

// Session drives one client choreography (connect → auth-retry →
// createStream → publish/play) over connections produced by a Dialer.
type Session struct {
	dial   Dialer
	loc    Location
	mode   Mode
	c      *conn.Connection
	runErr chan error
	cancel context.CancelFunc

	StreamID uint32
}

// NewSession constructs a Session; call Start to dial, authenticate, and
// reach the publish/play state.
func NewSession(dial Dialer, loc Location, mode Mode) *Session {
	return &Session{dial: dial, loc: loc, mode: mode}
}

// Done returns the channel the underlying Connection's Run loop reports its
// terminal error on, for callers that want to notice an unexpected close.
func (s *Session) Done() <-chan error { return s.runErr }

// Connection returns the live connection once Start has succeeded, for
// callers that need to queue media messages directly.
func (s *Session) Connection() *conn.Connection { return s.c }

// Start runs the full choreography: dial, connect (re-dialing on each adobe
// auth challenge, see connectWithRetry), createStream, and publish or play. It returns once the
// stream is ready to carry media, or with an error.
func (s *Session) Start(ctx context.Context) error {
	loc := s.loc

	c, cancel, runErr, _, err := s.connectWithRetry(ctx, loc)
	if err != nil {
		return err
	}
	s.c = c
	s.cancel = cancel
	s.runErr = runErr

	if err := s.prepareStream(c); err != nil {
		cancel()
		return err
	}

	streamID, err := s.createStream(c)
	if err != nil {
		cancel()
		return err
	}
	s.StreamID = streamID

	if s.mode == ModePublish {
		if err := s.publish(c, streamID); err != nil {
			cancel()
			return err
		}
	} else {
		if err := s.play(c, streamID); err != nil {
			cancel()
			return err
		}
	}
	return nil
}

// Stop sends the configured fire-and-forget stop commands (if publishing)
// and tears down the connection.
func (s *Session) Stop(stopCommands StopCommands) {
	if s.c == nil {
		return
	}
	if s.mode == ModePublish {
		if stopCommands&StopFCUnpublish != 0 {
			_, _ = s.c.SendCommand(commandChunkStream, 0, "FCUnpublish", amf0.Null(), amf0.String(s.loc.Stream))
		}
		if stopCommands&StopCloseStream != 0 {
			_, _ = s.c.SendCommand(commandChunkStream, s.StreamID, "closeStream", amf0.Null())
		}
		if stopCommands&StopDeleteStream != 0 {
			_, _ = s.c.SendCommand(commandChunkStream, 0, "deleteStream", amf0.Null(), amf0.Number(float64(s.StreamID)))
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	_ = s.c.Close()
}

// StopCommands is a bitmask of fire-and-forget commands sent when stopping
// a publish session.
type StopCommands int

const (
	StopFCUnpublish  StopCommands = 1 << iota
	StopCloseStream
	StopDeleteStream
)

// connectWithRetry dials, runs the connection's I/O loop, and sends connect.
// When the rejection asks for adobe auth it repeats the entire
// dial-and-handshake sequence against adjusted credentials: an auto-mode
// challenge switches the location to adobe mode (so connect carries
// authmod=adobe and the user name), and a needauth challenge appends the
// computed auth query to the application. Every such rejection triggers
// another attempt; the number of attempts is not capped. On success it
// returns the now-running Connection along with the cancel func and error
// channel of the goroutine driving its Run loop, which the caller takes
// ownership of.
func (s *Session) connectWithRetry(ctx context.Context, loc Location) (*conn.Connection, context.CancelFunc, chan error, []amf0.Value, error) {
	c, err := s.dial(ctx, loc)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("client: dialing: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(runCtx) }()

	args, err := s.sendConnect(c, loc)
	if err == nil {
		return c, cancel, runErr, args, nil
	}

	var retryLoc Location
	var needRetry bool
	if rr, ok := err.(*rejectedError); ok {
		r := parseRejection(rr.description, loc.Auth)
		switch {
		case r.needsAdobeRetry:
			retryLoc = loc
			retryLoc.Auth = AuthAdobe
			needRetry = true
		case r.reason == "needauth":
			query, qerr := adobeAuthQuery(loc.Username, loc.Password, r.salt, r.opaque, r.challenge)
			if qerr != nil {
				cancel()
				_ = c.Close()
				return nil, nil, nil, nil, qerr
			}
			retryLoc = loc
			retryLoc.Application = loc.Application + "?" + query
			needRetry = true
		default:
			cancel()
			_ = c.Close()
			return nil, nil, nil, nil, fmt.Errorf("client: connect rejected: %w", rtmperr.ErrPermissionDenied)
		}
	}

	cancel()
	_ = c.Close()
	<-runErr

	if !needRetry {
		return nil, nil, nil, nil, err
	}

	rtmplog.Info("client: retrying connect with adobe authentication for %s", loc.Host)
	return s.connectWithRetry(ctx, retryLoc)
}

type rejectedError struct{ description string }

func (e *rejectedError) Error() string { return "rtmp: connect rejected: " + e.description }

func (s *Session) sendConnect(c *conn.Connection, loc Location) ([]amf0.Value, error) {
	app := loc.Application
	if loc.Auth == AuthAdobe && loc.Username != "" && !strings.Contains(app, "authmod=") {
		app += "?authmod=adobe&user=" + url.QueryEscape(loc.Username)
	}
	props := []amf0.Property{
		{Name: "app", Value: amf0.String(app)},
		{Name: "type", Value: amf0.String("nonprivate")},
		{Name: "tcUrl", Value: amf0.String(loc.TCUrl())},
	}
	if loc.FlashVersion != "" {
		props = append(props, amf0.Property{Name: "flashVer", Value: amf0.String(loc.FlashVersion)})
	}
	if s.mode == ModePlay {
		props = append(props,
			amf0.Property{Name: "fpad", Value: amf0.Bool(false)},
			amf0.Property{Name: "capabilities", Value: amf0.Number(15)},
			amf0.Property{Name: "audioCodecs", Value: amf0.Number(4071)},
			amf0.Property{Name: "videoCodecs", Value: amf0.Number(252)},
			amf0.Property{Name: "videoFunction", Value: amf0.Number(1)},
		)
	}

	tr, err := c.SendCommand(commandChunkStream, 0, "connect", amf0.Object(props...))
	if err != nil {
		return nil, err
	}

	res, err := awaitResult(tr, 0)
	if err != nil {
		return nil, err
	}

	code, ok := statusCode(res.Args)
	if !ok {
		return nil, fmt.Errorf("client: connect reply missing status code: %w", rtmperr.ErrInvalidData)
	}

	switch code {
	case "NetConnection.Connect.Success":
		if err := s.maybeSendSecureToken(c, res.Args); err != nil {
			return nil, err
		}
		return res.Args, nil
	case "NetConnection.Connect.Rejected":
		desc := statusDescription(res.Args)
		return nil, &rejectedError{description: desc}
	default:
		return nil, fmt.Errorf("client: connect status %q: %w", code, rtmperr.ErrPermissionDenied)
	}
}

func (s *Session) maybeSendSecureToken(c *conn.Connection, args []amf0.Value) error {
	if s.loc.SecureToken == "" {
		return nil
	}
	for _, v := range args {
		if v.Kind() != amf0.KindObject {
			continue
		}
		challenge := v.Get("secureToken")
		if challenge.Kind() != amf0.KindString || challenge.String() == "" {
			continue
		}
		response, err := secureTokenResponse(s.loc.SecureToken, challenge.String())
		if err != nil {
			return fmt.Errorf("client: computing secure token response: %w", err)
		}
		_, err = c.SendCommand(commandChunkStream, 0, "secureTokenResponse", amf0.Null(), amf0.String(response))
		return err
	}
	return nil
}

// prepareStream sends the fire-and-forget (publish) or flow-control setup
// (play) messages that precede createStream.
func (s *Session) prepareStream(c *conn.Connection) error {
	if s.mode == ModePublish {
		_, _ = c.SendCommand(commandChunkStream, 0, "releaseStream", amf0.Null(), amf0.String(s.loc.Stream))
		_, _ = c.SendCommand(commandChunkStream, 0, "FCPublish", amf0.Null(), amf0.String(s.loc.Stream))
		return nil
	}
	payload := make([]byte, 4)
	putU32(payload, 2_500_000)
	c.QueueMessage(rtmp.ProtocolControlChunkStream, rtmp.Message{Type: rtmp.TypeWindowAckSize, Payload: payload})
	c.QueueMessage(rtmp.ProtocolControlChunkStream, setBufferLengthMessage(0, 300))
	return nil
}

func (s *Session) createStream(c *conn.Connection) (uint32, error) {
	tr, err := c.SendCommand(commandChunkStream, 0, "createStream", amf0.Null())
	if err != nil {
		return 0, err
	}
	res, err := awaitResult(tr, 0)
	if err != nil {
		return 0, err
	}
	if !res.Success || len(res.Args) < 2 || res.Args[1].Kind() != amf0.KindNumber {
		return 0, fmt.Errorf("client: createStream reply missing stream id: %w", rtmperr.ErrInvalidData)
	}
	streamID := uint32(res.Args[1].Number())
	if streamID == 0 {
		return 0, fmt.Errorf("client: server assigned stream id 0: %w", rtmperr.ErrInvalidData)
	}
	return streamID, nil
}

var publishSuccessCodes = map[string]bool{
	"NetStream.Publish.Start": true,
}

var playSuccessCodes = map[string]bool{
	"NetStream.Play.Start":          true,
	"NetStream.Play.PublishNotify":  true,
	"NetStream.Play.Reset":          true,
}

func (s *Session) publish(c *conn.Connection, streamID uint32) error {
	ec := c.RegisterExpectedCommand(streamID, "onStatus")
	if _, err := c.SendCommand(commandChunkStream, streamID, "publish", amf0.Null(), amf0.String(s.loc.Stream), amf0.String("live")); err != nil {
		return err
	}
	return s.awaitStatus(ec, publishSuccessCodes)
}

func (s *Session) play(c *conn.Connection, streamID uint32) error {
	ec := c.RegisterExpectedCommand(streamID, "onStatus")
	if _, err := c.SendCommand(commandChunkStream, streamID, "play", amf0.Null(), amf0.String(s.loc.Stream), amf0.Number(-2)); err != nil {
		return err
	}
	if err := s.awaitStatus(ec, playSuccessCodes); err != nil {
		return err
	}
	c.QueueMessage(rtmp.ProtocolControlChunkStream, setBufferLengthMessage(streamID, 30000))
	return nil
}

func (s *Session) awaitStatus(ec *conn.ExpectedCommand, okCodes map[string]bool) error {
	select {
	case res := <-ec.Done():
		if res.Err != nil {
			return res.Err
		}
		code, ok := statusCode(res.Args)
		if !ok {
			return fmt.Errorf("client: onStatus missing code: %w", rtmperr.ErrInvalidData)
		}
		if okCodes[code] {
			return nil
		}
		return mapStatusError(code)
	case <-time.After(30 * time.Second):
		return fmt.Errorf("client: timed out waiting on onStatus: %w", rtmperr.ErrTimedOut)
	}
}

func mapStatusError(code string) error {
	switch code {
	case "NetStream.Publish.BadName":
		return fmt.Errorf("client: %s: %w", code, rtmperr.ErrAlreadyExists)
	case "NetStream.Publish.Denied":
		return fmt.Errorf("client: %s: %w", code, rtmperr.ErrPermissionDenied)
	case "NetStream.Play.StreamNotFound":
		return fmt.Errorf("client: %s: %w", code, rtmperr.ErrNotFound)
	default:
		return fmt.Errorf("client: status %s: %w", code, rtmperr.ErrInternal)
	}
}

func awaitResult(tr *conn.Transaction, timeout time.Duration) (conn.Result, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case res := <-tr.Done():
		if res.Err != nil {
			return res, res.Err
		}
		return res, nil
	case <-time.After(timeout):
		return conn.Result{}, fmt.Errorf("client: timed out waiting on transaction: %w", rtmperr.ErrTimedOut)
	}
}

func statusCode(args []amf0.Value) (string, bool) {
	for _, v := range args {
		if v.Kind() != amf0.KindObject {
			continue
		}
		code := v.Get("code")
		if code.Kind() == amf0.KindString {
			return code.String(), true
		}
	}
	return "", false
}

func statusDescription(args []amf0.Value) string {
	for _, v := range args {
		if v.Kind() != amf0.KindObject {
			continue
		}
		desc := v.Get("description")
		if desc.Kind() == amf0.KindString {
			return desc.String()
		}
	}
	return ""
}

func setBufferLengthMessage(streamID uint32, ms uint32) rtmp.Message {
	payload := make([]byte, 10)
	putU16(payload, uint16(rtmp.UserControlSetBufferLength))
	putU32(payload[2:], streamID)
	putU32(payload[6:], ms)
	return rtmp.Message{Type: rtmp.TypeUserControl, Payload: payload}
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
