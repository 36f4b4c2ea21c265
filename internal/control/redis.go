package control

import (
	"context"
	"crypto/tls"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AgustinSRG/rtmp-client/rtmplog"
)

// RedisConfig configures the Redis remote-command receiver. Use is false
// (disabled) unless RTMP_REDIS_USE=YES.
type RedisConfig struct {
	Use      bool
	Host     string
	Port     string
	Password string
	Channel  string
	TLS      bool
	// InstanceID, if set, restricts commands to ones whose optional target
	// argument matches it — lets one Redis channel address one client out
	// of a horizontally-deployed fleet. Empty means accept every command on
	// the channel.
	InstanceID string
}

// RedisConfigFromEnv reads RTMP_REDIS_USE, RTMP_REDIS_HOST, RTMP_REDIS_PORT,
// RTMP_REDIS_PASSWORD, RTMP_REDIS_CHANNEL, RTMP_REDIS_TLS, and
// RTMP_INSTANCE_ID, applying the same defaults (localhost:6379) the
// teacher's server side uses, with a client-scoped default channel name.
func RedisConfigFromEnv() RedisConfig {
	host := os.Getenv("RTMP_REDIS_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("RTMP_REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	channel := os.Getenv("RTMP_REDIS_CHANNEL")
	if channel == "" {
		channel = "rtmp_client_commands"
	}
	return RedisConfig{
		Use:        os.Getenv("RTMP_REDIS_USE") == "YES",
		Host:       host,
		Port:       port,
		Password:   os.Getenv("RTMP_REDIS_PASSWORD"),
		Channel:    channel,
		TLS:        os.Getenv("RTMP_REDIS_TLS") == "YES",
		InstanceID: os.Getenv("RTMP_INSTANCE_ID"),
	}
}

// Handlers are the actions a remote command can trigger.
type Handlers struct {
	// Stop performs the graceful client choreography stop (§4.5 step 5):
	// fire-and-forget stop commands, then close. Invoked by stop-publish
	// and stop-play.
	Stop func()
	// Close tears the connection down immediately, with no stop commands.
	// Invoked by close.
	Close func()
}

// RemoteReceiver subscribes to a Redis channel for "command>target"
// formatted remote commands (the teacher's parseRedisCommand wire format),
// dispatching stop-publish, stop-play, and close commands addressed to this
// client.
type RemoteReceiver struct {
	cfg      RedisConfig
	handlers Handlers
}

// NewRemoteReceiver constructs a RemoteReceiver. Run returns immediately if
// cfg.Use is false.
func NewRemoteReceiver(cfg RedisConfig, handlers Handlers) *RemoteReceiver {
	return &RemoteReceiver{cfg: cfg, handlers: handlers}
}

// Run subscribes and processes messages until ctx is cancelled, retrying
// the subscription with a 10 second backoff on any error.
func (r *RemoteReceiver) Run(ctx context.Context) {
	if !r.cfg.Use {
		return
	}

	opts := &redis.Options{
		Addr:     r.cfg.Host + ":" + r.cfg.Port,
		Password: r.cfg.Password,
	}
	if r.cfg.TLS {
		opts.TLSConfig = &tls.Config{}
	}
	client := redis.NewClient(opts)
	defer client.Close()

	sub := client.Subscribe(ctx, r.cfg.Channel)
	defer sub.Close()

	rtmplog.Info("control: listening for remote commands on Redis channel %q", r.cfg.Channel)

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			rtmplog.Warning("control: redis receive error: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Second):
			}
			continue
		}
		r.dispatch(msg.Payload)
	}
}

func (r *RemoteReceiver) dispatch(cmd string) {
	parts := strings.SplitN(cmd, ">", 2)
	name := parts[0]
	var target string
	if len(parts) == 2 {
		target = parts[1]
	}
	if r.cfg.InstanceID != "" && target != "" && target != r.cfg.InstanceID {
		return
	}

	switch name {
	case "stop-publish", "stop-play":
		if r.handlers.Stop != nil {
			r.handlers.Stop()
		}
	case "close":
		if r.handlers.Close != nil {
			r.handlers.Close()
		}
	default:
		rtmplog.Warning("control: unknown remote command: %s", name)
	}
}
