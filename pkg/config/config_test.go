package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/logging"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9000"
auth:
  jwt_secret: s3cret
call:
  cooldown: 5s
webrtc:
  include_loopback: true
  ice_servers:
    - urls: ["turn:turn.example.com:3478"]
      username: u
      credential: p
log:
  level: debug
  scopes:
    ice: warn
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Address != ":9000" || cfg.Auth.JWTSecret != "s3cret" {
		t.Fatalf("server/auth = %+v %+v", cfg.Server, cfg.Auth)
	}
	if cfg.Call.Cooldown != 5*time.Second {
		t.Fatalf("cooldown = %v", cfg.Call.Cooldown)
	}
	if cfg.Call.RequestTimeout != 30*time.Second {
		t.Fatalf("request timeout default lost: %v", cfg.Call.RequestTimeout)
	}
	if cfg.Relay.Path != "/ws" {
		t.Fatalf("relay path default lost: %q", cfg.Relay.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	rtc := cfg.ToWebRTC()
	if len(rtc.ICEServers) != 1 || rtc.ICEServers[0].Username != "u" || !rtc.IncludeLoopback {
		t.Fatalf("webrtc = %+v", rtc)
	}
	if cc := cfg.ToCall(); cc.Cooldown != 5*time.Second {
		t.Fatalf("call = %+v", cc)
	}

	lf := cfg.LoggerFactory()
	if lf.DefaultLogLevel != logging.LogLevelDebug || lf.ScopeLevels["ice"] != logging.LogLevelWarn {
		t.Fatalf("levels = %v %v", lf.DefaultLogLevel, lf.ScopeLevels)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("RELAY_ADDRESS", ":7000")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("ICE_SERVERS", "stun:a.example.com:3478, stun:b.example.com:3478")
	t.Setenv("CALL_COOLDOWN", "750ms")

	cfg, err := Load(writeConfig(t, "server:\n  address: \":9000\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Address != ":7000" || cfg.Auth.JWTSecret != "env-secret" || cfg.Log.Level != "warn" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.WebRTC.ICEServers) != 2 || cfg.WebRTC.ICEServers[1].URLs[0] != "stun:b.example.com:3478" {
		t.Fatalf("ice servers = %+v", cfg.WebRTC.ICEServers)
	}
	if cfg.Call.Cooldown != 750*time.Millisecond {
		t.Fatalf("cooldown = %v", cfg.Call.Cooldown)
	}

	t.Setenv("CALL_COOLDOWN", "soon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected bad duration to fail")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected missing file to fail")
	}
	if _, err := Load(writeConfig(t, "server: [")); err == nil {
		t.Fatal("expected bad yaml to fail")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.Address = ""
	cfg.Call.Cooldown = 0
	cfg.Relay.PingPeriod = cfg.Relay.PongWait
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	for _, want := range []error{ErrMissingAddress, ErrMissingSecret, ErrInvalidCooldown, ErrInvalidPing, ErrUnknownLogLevel} {
		if !errors.Is(err, want) {
			t.Errorf("Validate() missing %v", want)
		}
	}
}
