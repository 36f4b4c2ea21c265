package webhook

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestSenderPostsSignedStartEvent(t *testing.T) {
	const secret = "test-secret"
	var gotEvent string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.Header.Get("rtmp-event")
		token, err := jwt.Parse(tokenStr, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			t.Errorf("invalid token: %v", err)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		claims := token.Claims.(jwt.MapClaims)
		gotEvent, _ = claims["event"].(string)
		w.Header().Set("stream-id", "stream-123")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := Config{URL: srv.URL, Secret: secret, Subject: "rtmp_event"}
	sender := NewSender(cfg, "publish", "live", "mystream", "127.0.0.1")

	streamID, err := sender.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if gotEvent != "publish-start" {
		t.Fatalf("event = %q, want publish-start", gotEvent)
	}
	if streamID != "stream-123" {
		t.Fatalf("streamID = %q, want stream-123", streamID)
	}
}

func TestSenderNoopsWithoutURL(t *testing.T) {
	sender := NewSender(Config{}, "publish", "live", "mystream", "127.0.0.1")
	if _, err := sender.Start(); err != nil {
		t.Fatalf("Start with no URL configured should be a no-op: %v", err)
	}
}

func TestSenderReturnsErrorOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := Config{URL: srv.URL, Secret: "s", Subject: "rtmp_event"}
	sender := NewSender(cfg, "play", "live", "mystream", "127.0.0.1")
	if err := sender.Stop("abc"); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}
