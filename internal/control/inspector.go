// Package control wires the client session into an optional external
// coordinator: a websocket channel reporting session stats and observable
// signals, and a Redis pub/sub channel carrying fire-and-forget remote
// commands for deployments that prefer a message broker over a direct
// connection.
package control

import (
	"net/http"
	"os"
	"sync"
	"time"

	messages "github.com/AgustinSRG/go-simple-rpc-message"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/AgustinSRG/rtmp-client/rtmp"
	"github.com/AgustinSRG/rtmp-client/rtmplog"
)

// InspectorConfig configures the websocket channel to an external
// coordinator. URL empty disables the inspector entirely.
type InspectorConfig struct {
	URL    string
	Secret string
}

// InspectorConfigFromEnv reads RTMP_INSPECTOR_URL and RTMP_INSPECTOR_SECRET.
func InspectorConfigFromEnv() InspectorConfig {
	return InspectorConfig{
		URL:    os.Getenv("RTMP_INSPECTOR_URL"),
		Secret: os.Getenv("RTMP_INSPECTOR_SECRET"),
	}
}

// StatsProvider reports the current session's byte counters, polled once
// per STATS report.
type StatsProvider func() (inBytes, outBytes uint64)

// KillFunc tears the current session down; invoked when the coordinator
// sends a KILL command.
type KillFunc func()

// Inspector maintains a reconnecting websocket connection to an external
// coordinator: it reports periodic STATS snapshots and forwards the
// connection's error and stream-control observable signals as ERROR and
// STREAM-CONTROL messages, applying a KILL command the coordinator sends
// back.
type Inspector struct {
	cfg   InspectorConfig
	stats StatsProvider
	kill  KillFunc

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

// NewInspector constructs an Inspector. Call Run to start connecting; it
// blocks until stopped, so run it in its own goroutine.
func NewInspector(cfg InspectorConfig, stats StatsProvider, kill KillFunc) *Inspector {
	return &Inspector{cfg: cfg, stats: stats, kill: kill, done: make(chan struct{})}
}

// Stop ends the inspector's reconnect loop and closes any open connection.
func (ins *Inspector) Stop() {
	close(ins.done)
	ins.mu.Lock()
	if ins.conn != nil {
		ins.conn.Close()
	}
	ins.mu.Unlock()
}

// Run connects, reconnecting with a 10 second backoff on failure, until
// Stop is called. It returns immediately if no URL is configured.
func (ins *Inspector) Run() {
	if ins.cfg.URL == "" {
		return
	}
	for {
		select {
		case <-ins.done:
			return
		default:
		}
		if err := ins.connectAndServe(); err != nil {
			rtmplog.Warning("control: inspector connection error: %v", err)
		}
		select {
		case <-ins.done:
			return
		case <-time.After(10 * time.Second):
		}
	}
}

func (ins *Inspector) connectAndServe() error {
	headers := http.Header{}
	if token := ins.authToken(); token != "" {
		headers.Set("x-control-auth-token", token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(ins.cfg.URL, headers)
	if err != nil {
		return err
	}
	ins.mu.Lock()
	ins.conn = conn
	ins.mu.Unlock()
	defer func() {
		ins.mu.Lock()
		ins.conn = nil
		ins.mu.Unlock()
		conn.Close()
	}()

	readErr := make(chan error, 1)
	go ins.readLoop(conn, readErr)

	statsTicker := time.NewTicker(20 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ins.done:
			return nil
		case err := <-readErr:
			return err
		case <-statsTicker.C:
			if err := ins.sendStats(conn); err != nil {
				return err
			}
		}
	}
}

func (ins *Inspector) readLoop(conn *websocket.Conn, errCh chan<- error) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, body, err := conn.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		msg := messages.ParseRPCMessage(string(body))
		if msg.Method == "KILL" && ins.kill != nil {
			ins.kill()
		}
	}
}

func (ins *Inspector) sendStats(conn *websocket.Conn) error {
	inBytes, outBytes := uint64(0), uint64(0)
	if ins.stats != nil {
		inBytes, outBytes = ins.stats()
	}
	msg := messages.RPCMessage{
		Method: "STATS",
		Params: map[string]string{
			"In-Bytes":  itoa(inBytes),
			"Out-Bytes": itoa(outBytes),
		},
	}
	return ins.send(conn, msg)
}

// ReportError forwards a terminal connection error as an ERROR message.
// Safe to call even when no websocket is currently connected (a no-op).
func (ins *Inspector) ReportError(err error) {
	ins.mu.Lock()
	conn := ins.conn
	ins.mu.Unlock()
	if conn == nil || err == nil {
		return
	}
	msg := messages.RPCMessage{
		Method: "ERROR",
		Params: map[string]string{"Message": err.Error()},
	}
	if sendErr := ins.send(conn, msg); sendErr != nil {
		rtmplog.Warning("control: reporting error to inspector: %v", sendErr)
	}
}

// ReportStreamControl forwards a user-control stream event as a
// STREAM-CONTROL message.
func (ins *Inspector) ReportStreamControl(eventType rtmp.UserControlEventType, mstream uint32) {
	ins.mu.Lock()
	conn := ins.conn
	ins.mu.Unlock()
	if conn == nil {
		return
	}
	msg := messages.RPCMessage{
		Method: "STREAM-CONTROL",
		Params: map[string]string{
			"Event":        itoa(uint64(eventType)),
			"Message-Stream": itoa(uint64(mstream)),
		},
	}
	if sendErr := ins.send(conn, msg); sendErr != nil {
		rtmplog.Warning("control: reporting stream control to inspector: %v", sendErr)
	}
}

func (ins *Inspector) send(conn *websocket.Conn, msg messages.RPCMessage) error {
	return conn.WriteMessage(websocket.TextMessage, []byte(msg.Serialize()))
}

func (ins *Inspector) authToken() string {
	if ins.cfg.Secret == "" {
		return ""
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "rtmp-client",
	})
	signed, err := token.SignedString([]byte(ins.cfg.Secret))
	if err != nil {
		rtmplog.Warning("control: signing inspector auth token: %v", err)
		return ""
	}
	return signed
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
