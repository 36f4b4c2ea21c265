package control

import "testing"

func TestRemoteReceiverDispatchesStopForMatchingTarget(t *testing.T) {
	stopped := false
	r := NewRemoteReceiver(RedisConfig{InstanceID: "abc"}, Handlers{Stop: func() { stopped = true }})

	r.dispatch("stop-publish>xyz")
	if stopped {
		t.Fatal("expected stop-publish for a different target to be ignored")
	}

	r.dispatch("stop-publish>abc")
	if !stopped {
		t.Fatal("expected stop-publish for this instance to invoke Stop")
	}
}

func TestRemoteReceiverDispatchesCloseWithNoTarget(t *testing.T) {
	closed := false
	r := NewRemoteReceiver(RedisConfig{}, Handlers{Close: func() { closed = true }})

	r.dispatch("close")
	if !closed {
		t.Fatal("expected an untargeted close command to invoke Close")
	}
}

func TestRemoteReceiverIgnoresUnknownCommand(t *testing.T) {
	stopped := false
	r := NewRemoteReceiver(RedisConfig{InstanceID: "abc"}, Handlers{Stop: func() { stopped = true }})
	r.dispatch("not-a-valid-command")
	if stopped {
		t.Fatal("unknown command should not invoke any handler")
	}
}

func TestRedisConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("RTMP_REDIS_USE", "")
	t.Setenv("RTMP_REDIS_HOST", "")
	t.Setenv("RTMP_REDIS_PORT", "")
	t.Setenv("RTMP_REDIS_CHANNEL", "")

	cfg := RedisConfigFromEnv()
	if cfg.Use {
		t.Fatal("expected Use=false when RTMP_REDIS_USE is unset")
	}
	if cfg.Host != "localhost" || cfg.Port != "6379" || cfg.Channel != "rtmp_client_commands" {
		t.Fatalf("got %+v", cfg)
	}
}
