package rtmpconf

import (
	"testing"

	"github.com/AgustinSRG/rtmp-client/client"
)

func TestFromEnvPublishDefaults(t *testing.T) {
	t.Setenv("RTMP_LOCATION", "rtmp://example.com/live/mystream")
	t.Setenv("RTMP_HOST", "")
	t.Setenv("RTMP_CHUNK_SIZE", "")
	t.Setenv("RTMP_PEAK_KBPS", "")

	cfg, err := FromEnv(true)
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Mode != client.ModePublish {
		t.Fatalf("Mode = %v, want ModePublish", cfg.Mode)
	}
	if cfg.Location.Host != "example.com" || cfg.Location.Application != "live" || cfg.Location.Stream != "mystream" {
		t.Fatalf("Location = %+v", cfg.Location)
	}
	if cfg.ChunkSize != 4096 {
		t.Fatalf("ChunkSize = %d, want 4096", cfg.ChunkSize)
	}
	if cfg.StopCommands&client.StopFCUnpublish == 0 {
		t.Fatalf("expected default StopCommands to include FCUnpublish")
	}
}

func TestFromEnvHostOverride(t *testing.T) {
	t.Setenv("RTMP_LOCATION", "rtmp://placeholder/live/mystream")
	t.Setenv("RTMP_HOST", "override.example.com")
	t.Setenv("RTMP_PORT", "1936")

	cfg, err := FromEnv(false)
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Location.Host != "override.example.com" || cfg.Location.Port != 1936 {
		t.Fatalf("Location = %+v", cfg.Location)
	}
	if cfg.Mode != client.ModePlay {
		t.Fatalf("Mode = %v, want ModePlay", cfg.Mode)
	}
}

func TestFromEnvMissingLocation(t *testing.T) {
	t.Setenv("RTMP_LOCATION", "")
	if _, err := FromEnv(true); err == nil {
		t.Fatal("expected an error when RTMP_LOCATION is unset")
	}
}
