// Package webhook sends JWT-signed start/stop notifications to an external
// callback URL when a publish or play session begins and ends, mirroring
// the server-side callback hook this client's teacher codebase posts on
// session lifecycle events.
package webhook

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AgustinSRG/rtmp-client/rtmplog"
)

const expirationSeconds = 120

// Config configures the webhook sender. URL empty disables callbacks
// entirely, matching the teacher's "no CALLBACK_URL means no callback"
// convention.
type Config struct {
	URL     string
	Secret  string
	Subject string
}

// ConfigFromEnv reads RTMP_CALLBACK_URL, RTMP_JWT_SECRET, and
// RTMP_CUSTOM_JWT_SUBJECT, defaulting the subject to "rtmp_event" when
// unset.
func ConfigFromEnv() Config {
	subject := os.Getenv("RTMP_CUSTOM_JWT_SUBJECT")
	if subject == "" {
		subject = "rtmp_event"
	}
	return Config{
		URL:     os.Getenv("RTMP_CALLBACK_URL"),
		Secret:  os.Getenv("RTMP_JWT_SECRET"),
		Subject: subject,
	}
}

// Sender posts lifecycle events for one session (application + stream name)
// to Config.URL, signed as an HS256 JWT carried in the "rtmp-event" header.
// mode is "publish" or "play", prefixing the event names this Sender posts
// ("publish-start"/"publish-stop" or "play-start"/"play-stop").
type Sender struct {
	cfg         Config
	mode        string
	application string
	stream      string
	clientIP    string
}

// NewSender builds a Sender for one session. application/stream/clientIP
// are embedded as JWT claims on every event this Sender posts.
func NewSender(cfg Config, mode, application, stream, clientIP string) *Sender {
	return &Sender{cfg: cfg, mode: mode, application: application, stream: stream, clientIP: clientIP}
}

// Start posts the "<mode>-start" event and returns the server-assigned
// stream id from the response's "stream-id" header, if any.
func (s *Sender) Start() (streamID string, err error) {
	return s.post(s.mode+"-start", "")
}

// Stop posts the "<mode>-stop" event for the given stream id.
func (s *Sender) Stop(streamID string) error {
	_, err := s.post(s.mode+"-stop", streamID)
	return err
}

func (s *Sender) post(event, streamID string) (string, error) {
	if s.cfg.URL == "" {
		return "", nil
	}

	claims := jwt.MapClaims{
		"sub":       s.cfg.Subject,
		"event":     event,
		"channel":   s.application,
		"key":       s.stream,
		"client_ip": s.clientIP,
		"exp":       time.Now().Unix() + expirationSeconds,
	}
	if streamID != "" {
		claims["stream_id"] = streamID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("webhook: signing event token: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.cfg.URL, nil)
	if err != nil {
		return "", fmt.Errorf("webhook: building request: %w", err)
	}
	req.Header.Set("rtmp-event", signed)

	client := &http.Client{Timeout: 10 * time.Second}
	res, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("webhook: posting %s event: %w", event, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		rtmplog.Warning("webhook: %s event rejected with status %d", event, res.StatusCode)
		return "", fmt.Errorf("webhook: %s event rejected with status %d", event, res.StatusCode)
	}

	return res.Header.Get("stream-id"), nil
}
