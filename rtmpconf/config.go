// Package rtmpconf resolves a client.Location and the session's operating
// parameters from a location URL plus the per-field overrides and
// publisher/player options listed in the configuration-keys surface,
// following the env-var-driven configuration style this codebase's
// teacher uses throughout its cmd/ entrypoint.
package rtmpconf

import (
	"os"
	"strconv"
	"time"

	"github.com/AgustinSRG/rtmp-client/client"
	"github.com/AgustinSRG/rtmp-client/rtmperr"
)

// Config is the fully resolved set of session parameters.
type Config struct {
	Location client.Location
	Mode     client.Mode

	Timeout time.Duration

	// Publisher-only.
	PeakKbps     int
	ChunkSize    uint32
	StopCommands client.StopCommands
	AsyncConnect bool

	// Player-only.
	IdleTimeout  time.Duration
	NoEOFIsError bool
}

// FromEnv resolves a Config from environment variables, in the style of
// the teacher's os.Getenv-driven configuration. `location` is the full
// RTMP URL; individual field overrides (RTMP_HOST, RTMP_PORT, ...) take
// precedence over the parsed URL when set. `publish` selects Mode.
func FromEnv(publish bool) (Config, error) {
	var cfg Config
	cfg.Mode = client.ModePlay
	if publish {
		cfg.Mode = client.ModePublish
	}

	rawLocation := os.Getenv("RTMP_LOCATION")
	if rawLocation == "" {
		return cfg, rtmperr.ErrNotInitialized
	}
	loc, err := client.ParseLocation(rawLocation)
	if err != nil {
		return cfg, err
	}

	applyStringOverride(&loc.Host, "RTMP_HOST")
	applyStringOverride(&loc.Application, "RTMP_APPLICATION")
	applyStringOverride(&loc.Stream, "RTMP_STREAM")
	applyStringOverride(&loc.Username, "RTMP_USERNAME")
	applyStringOverride(&loc.Password, "RTMP_PASSWORD")
	applyStringOverride(&loc.SecureToken, "RTMP_SECURE_TOKEN")
	applyStringOverride(&loc.FlashVersion, "RTMP_FLASH_VERSION")
	if p := os.Getenv("RTMP_PORT"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return cfg, err
		}
		loc.Port = n
	}
	switch os.Getenv("RTMP_AUTHMOD") {
	case "adobe":
		loc.Auth = client.AuthAdobe
	case "auto":
		loc.Auth = client.AuthAuto
	case "none", "":
		loc.Auth = client.AuthNone
	}
	cfg.Location = loc

	cfg.Timeout = 5 * time.Second
	if t := os.Getenv("RTMP_TIMEOUT"); t != "" {
		secs, err := strconv.Atoi(t)
		if err != nil {
			return cfg, err
		}
		cfg.Timeout = time.Duration(secs) * time.Second
	}

	if publish {
		if v := os.Getenv("RTMP_PEAK_KBPS"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return cfg, err
			}
			cfg.PeakKbps = n
		}
		cfg.ChunkSize = 4096
		if v := os.Getenv("RTMP_CHUNK_SIZE"); v != "" {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return cfg, err
			}
			cfg.ChunkSize = uint32(n)
		}
		cfg.StopCommands = client.StopFCUnpublish | client.StopCloseStream | client.StopDeleteStream
		cfg.AsyncConnect = os.Getenv("RTMP_ASYNC_CONNECT") == "YES"
	} else {
		if v := os.Getenv("RTMP_IDLE_TIMEOUT"); v != "" {
			secs, err := strconv.Atoi(v)
			if err != nil {
				return cfg, err
			}
			cfg.IdleTimeout = time.Duration(secs) * time.Second
		}
		cfg.NoEOFIsError = os.Getenv("RTMP_NO_EOF_IS_ERROR") == "YES"
	}

	return cfg, nil
}

func applyStringOverride(field *string, envVar string) {
	if v := os.Getenv(envVar); v != "" {
		*field = v
	}
}
