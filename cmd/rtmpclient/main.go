// Command rtmpclient is a publish/play RTMP client driven by environment
// configuration, in the style of the teacher's single-binary cmd/ entrypoint
// (main.go, rtmp_server.go): it wires session, webhook, and control-plane
// configuration together and runs until the stream ends or is killed.
package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/AgustinSRG/rtmp-client/client"
	"github.com/AgustinSRG/rtmp-client/conn"
	"github.com/AgustinSRG/rtmp-client/flv"
	"github.com/AgustinSRG/rtmp-client/internal/control"
	"github.com/AgustinSRG/rtmp-client/internal/sockopt"
	"github.com/AgustinSRG/rtmp-client/internal/webhook"
	"github.com/AgustinSRG/rtmp-client/rtmp"
	"github.com/AgustinSRG/rtmp-client/rtmpconf"
	"github.com/AgustinSRG/rtmp-client/rtmplog"
)

func main() {
	_ = godotenv.Load()

	publish := os.Getenv("RTMP_MODE") == "publish"
	cfg, err := rtmpconf.FromEnv(publish)
	if err != nil {
		rtmplog.Error(fmt.Errorf("rtmpclient: loading configuration: %w", err))
		os.Exit(1)
	}

	rtmplog.Info("RTMP Client (Version 1.0.0)")

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	mediaCh := make(chan rtmp.Message, 256)
	var onMessage func(rtmp.Message)
	if cfg.Mode == client.ModePlay {
		onMessage = func(msg rtmp.Message) {
			select {
			case mediaCh <- msg:
			default:
				rtmplog.Warning("rtmpclient: dropping media message, playback consumer is behind")
			}
		}
	}

	var statsFn control.StatsProvider
	var session *client.Session
	statsFn = func() (uint64, uint64) {
		if session == nil || session.Connection() == nil {
			return 0, 0
		}
		st := session.Connection().Stats()
		return st.InBytesTotal, st.OutBytesTotal
	}
	inspector := control.NewInspector(control.InspectorConfigFromEnv(), statsFn, cancel)
	go inspector.Run()
	defer inspector.Stop()

	modeName := "play"
	if cfg.Mode == client.ModePublish {
		modeName = "publish"
	}

	session = client.NewSession(dialer(cfg, onMessage, inspector.ReportError, inspector.ReportStreamControl), cfg.Location, cfg.Mode)

	var sender *webhook.Sender
	var streamID string

	// connect runs the full dial/connect/createStream/publish-or-play
	// choreography and wires up the webhook and remote-control side
	// channels that depend on a live Connection. It is called exactly
	// once, either eagerly below or lazily from runPublish.
	connect := func() error {
		if err := session.Start(ctx); err != nil {
			return fmt.Errorf("rtmpclient: starting session: %w", err)
		}

		sender = webhook.NewSender(webhook.ConfigFromEnv(), modeName, cfg.Location.Application, cfg.Location.Stream, session.Connection().RemoteAddr())
		sID, werr := sender.Start()
		if werr != nil {
			rtmplog.Warning("rtmpclient: start webhook failed: %v", werr)
		}
		streamID = sID

		remote := control.NewRemoteReceiver(control.RedisConfigFromEnv(), control.Handlers{
			Stop:  func() { session.Stop(cfg.StopCommands) },
			Close: func() { _ = session.Connection().Close() },
		})
		go remote.Run(ctx)
		return nil
	}

	// async-connect (publisher-only, §6 of the configuration surface):
	// true connects on the READY transition, i.e. right away, same as
	// every player session; false defers the dial until the first FLV
	// tag is actually pushed, so a publisher that never receives data
	// never opens a connection.
	lazyConnect := cfg.Mode == client.ModePublish && !cfg.AsyncConnect
	if !lazyConnect {
		if err := connect(); err != nil {
			rtmplog.Error(err)
			os.Exit(1)
		}
	}

	if cfg.Mode == client.ModePublish {
		err = runPublish(ctx, session, cfg, connect, lazyConnect)
	} else {
		err = runPlay(ctx, session, mediaCh)
	}

	if sender != nil {
		if stopErr := sender.Stop(streamID); stopErr != nil {
			rtmplog.Warning("rtmpclient: stop webhook failed: %v", stopErr)
		}
	}

	session.Stop(cfg.StopCommands)

	if err != nil && err != io.EOF {
		rtmplog.Error(fmt.Errorf("rtmpclient: %w", err))
		os.Exit(1)
	}
}

// dialer returns the client.Dialer that opens a TCP (or TLS) connection to
// loc, runs the handshake, and wraps it as a conn.Connection.
func dialer(cfg rtmpconf.Config, onMessage func(rtmp.Message), onError func(error), onStreamControl func(rtmp.UserControlEventType, uint32)) client.Dialer {
	return func(ctx context.Context, loc client.Location) (*conn.Connection, error) {
		addr := fmt.Sprintf("%s:%d", loc.Host, loc.Port)
		var d net.Dialer
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}

		var rw net.Conn
		var err error
		rw, err = d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}

		if cfg.Mode == client.ModePublish && cfg.PeakKbps > 0 {
			if pacErr := sockopt.SetMaxPacingRate(rw, cfg.PeakKbps); pacErr != nil {
				rw.Close()
				return nil, pacErr
			}
		}

		if loc.Secure {
			tlsConn := tls.Client(rw, &tls.Config{ServerName: loc.Host})
			if hsErr := tlsConn.HandshakeContext(ctx); hsErr != nil {
				rw.Close()
				return nil, hsErr
			}
			rw = tlsConn
		}

		if err := rtmp.Handshake(rw, false); err != nil {
			rw.Close()
			return nil, err
		}

		return conn.New(rw, conn.Config{ReadTimeout: cfg.IdleTimeout, NoEOFIsError: cfg.NoEOFIsError}, conn.Signals{
			OnMessage:       onMessage,
			OnError:         onError,
			OnStreamControl: onStreamControl,
		}), nil
	}
}

// runPublish reads FLV-muxed tags from stdin and forwards them as RTMP
// messages until stdin closes or ctx is cancelled. If connect hasn't run
// yet (async-connect=false), it dials on the first tag read rather than
// before reading anything.
func runPublish(ctx context.Context, session *client.Session, cfg rtmpconf.Config, connect func() error, lazyConnect bool) error {
	adapter := flv.NewPublishAdapter()
	r := bufio.NewReaderSize(os.Stdin, 64*1024)

	connected := !lazyConnect
	var c *conn.Connection
	readyAdapter := func() error {
		c = session.Connection()
		if err := c.QueueChunkSize(cfg.ChunkSize); err != nil {
			return err
		}
		adapter.SetStreamID(session.StreamID)
		return nil
	}
	if connected {
		if err := readyAdapter(); err != nil {
			return err
		}
	}

	for {
		if connected {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-session.Done():
				return fmt.Errorf("rtmpclient: connection closed during publish")
			default:
			}
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		buf, err := readChunk(r)
		if err != nil {
			return err
		}

		if !connected {
			if err := connect(); err != nil {
				return err
			}
			if err := readyAdapter(); err != nil {
				return err
			}
			connected = true
		}

		msg, cstream, ok, isHeader, err := adapter.Convert(buf)
		if err != nil {
			rtmplog.Warning("rtmpclient: dropping unparsable FLV tag: %v", err)
			continue
		}
		if !ok {
			continue
		}

		if isHeader {
			adapter.CacheStreamHeader(cstream, msg)
			continue
		}

		for _, h := range adapter.StreamHeaders() {
			c.QueueMessage(h.CStream, h.Message)
		}
		c.QueueMessage(cstream, msg)
	}
}

// runPlay forwards inbound media messages to stdout as FLV tags until the
// stream ends or ctx is cancelled.
func runPlay(ctx context.Context, session *client.Session, mediaCh <-chan rtmp.Message) error {
	adapter := flv.NewPlayAdapter(session.StreamID)
	w := bufio.NewWriterSize(os.Stdout, 64*1024)
	defer w.Flush()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-session.Done():
			return err
		case msg := <-mediaCh:
			buf, ok := adapter.Convert(msg)
			if !ok {
				continue
			}
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
	}
}

func readChunk(r *bufio.Reader) ([]byte, error) {
	header := make([]byte, 11)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if header[0] == 'F' && header[1] == 'L' && header[2] == 'V' {
		// FLV file header: DataOffset bytes, then the PreviousTagSize0 word.
		offset := uint32(header[5])<<24 | uint32(header[6])<<16 | uint32(header[7])<<8 | uint32(header[8])
		if offset < 9 {
			return nil, fmt.Errorf("rtmpclient: FLV header data offset %d is too small", offset)
		}
		rest := make([]byte, offset+4-uint32(len(header)))
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil, err
		}
		return append(header, rest...), nil
	}
	size := uint32(header[1])<<16 | uint32(header[2])<<8 | uint32(header[3])
	rest := make([]byte, size+4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	return append(header, rest...), nil
}

