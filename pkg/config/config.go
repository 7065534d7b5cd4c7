package config

import (
	"errors"
	"fmt"
	"github.com/peterouob/pionCall/pkg/call"
	wbc "github.com/peterouob/pionCall/pkg/webrtc"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"gopkg.in/yaml.v3"
	"os"
	"strings"
	"time"
)

var (
	ErrMissingSecret   = errors.New("auth.jwt_secret is required")
	ErrMissingAddress  = errors.New("server.address is required")
	ErrInvalidCooldown = errors.New("call.cooldown must be positive")
	ErrInvalidPing     = errors.New("relay.ping_period must be shorter than relay.pong_wait")
	ErrInvalidRate     = errors.New("relay.messages_per_second must be positive")
	ErrUnknownLogLevel = errors.New("unknown log level")
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Auth   AuthConfig   `yaml:"auth"`
	Relay  RelayConfig  `yaml:"relay"`
	WebRTC WebRTCConfig `yaml:"webrtc"`
	Call   CallConfig   `yaml:"call"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// RelayConfig tunes the websocket signaling endpoint.
type RelayConfig struct {
	Path              string        `yaml:"path"`
	MessagesPerSecond float64       `yaml:"messages_per_second"`
	Burst             int           `yaml:"burst"`
	MaxMessageSize    int64         `yaml:"max_message_size"`
	PongWait          time.Duration `yaml:"pong_wait"`
	PingPeriod        time.Duration `yaml:"ping_period"`
	WriteWait         time.Duration `yaml:"write_wait"`
}

type ICEServerConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type WebRTCConfig struct {
	ICEServers          []ICEServerConfig `yaml:"ice_servers"`
	PLIInterval         time.Duration     `yaml:"pli_interval"`
	DisconnectedTimeout time.Duration     `yaml:"disconnected_timeout"`
	FailedTimeout       time.Duration     `yaml:"failed_timeout"`
	KeepAliveInterval   time.Duration     `yaml:"keepalive_interval"`
	IncludeLoopback     bool              `yaml:"include_loopback"`
}

type CallConfig struct {
	Cooldown       time.Duration `yaml:"cooldown"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
}

type LogConfig struct {
	Level  string            `yaml:"level"`
	Scopes map[string]string `yaml:"scopes"`
}

func Default() *Config {
	rtc := wbc.DefaultConfig()
	cc := call.DefaultConfig()
	cfg := &Config{
		Server: ServerConfig{
			Address:         ":8081",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Auth: AuthConfig{TokenTTL: 24 * time.Hour},
		Relay: RelayConfig{
			Path:              "/ws",
			MessagesPerSecond: 20,
			Burst:             40,
			MaxMessageSize:    64 * 1024,
			PongWait:          60 * time.Second,
			PingPeriod:        30 * time.Second,
			WriteWait:         10 * time.Second,
		},
		WebRTC: WebRTCConfig{
			PLIInterval:         rtc.PLIInterval,
			DisconnectedTimeout: rtc.DisconnectedTimeout,
			FailedTimeout:       rtc.FailedTimeout,
			KeepAliveInterval:   rtc.KeepAliveInterval,
		},
		Call: CallConfig{
			Cooldown:       cc.Cooldown,
			RequestTimeout: cc.RequestTimeout,
			SendTimeout:    cc.SendTimeout,
		},
		Log: LogConfig{Level: "info"},
	}
	for _, s := range rtc.ICEServers {
		cfg.WebRTC.ICEServers = append(cfg.WebRTC.ICEServers, ICEServerConfig{URLs: s.URLs})
	}
	return cfg
}

// Load reads path over the defaults and applies environment overrides. An
// empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := applyEnvironmentOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvironmentOverrides(cfg *Config) error {
	if addr := os.Getenv("RELAY_ADDRESS"); addr != "" {
		cfg.Server.Address = addr
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if servers := os.Getenv("ICE_SERVERS"); servers != "" {
		cfg.WebRTC.ICEServers = nil
		for _, u := range strings.Split(servers, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.WebRTC.ICEServers = append(cfg.WebRTC.ICEServers, ICEServerConfig{URLs: []string{u}})
			}
		}
	}
	if v := os.Getenv("CALL_COOLDOWN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CALL_COOLDOWN: %w", err)
		}
		cfg.Call.Cooldown = d
	}
	return nil
}

// Validate checks the settings the relay server needs.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Address == "" {
		errs = append(errs, ErrMissingAddress)
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, ErrMissingSecret)
	}
	if c.Call.Cooldown <= 0 {
		errs = append(errs, ErrInvalidCooldown)
	}
	if c.Relay.MessagesPerSecond <= 0 {
		errs = append(errs, ErrInvalidRate)
	}
	if c.Relay.PingPeriod >= c.Relay.PongWait {
		errs = append(errs, ErrInvalidPing)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func ParseLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info", "":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	}
	return logging.LogLevelDisabled, fmt.Errorf("%w: %q", ErrUnknownLogLevel, s)
}

// LoggerFactory builds the factory shared by our packages and pion. Unknown
// levels fall back to info.
func (c *Config) LoggerFactory() *logging.DefaultLoggerFactory {
	lf := logging.NewDefaultLoggerFactory()
	if lvl, err := ParseLevel(c.Log.Level); err == nil {
		lf.DefaultLogLevel = lvl
	}
	for scope, level := range c.Log.Scopes {
		if lvl, err := ParseLevel(level); err == nil {
			lf.ScopeLevels[scope] = lvl
		}
	}
	return lf
}

func (c *Config) ToWebRTC() wbc.Config {
	out := wbc.Config{
		PLIInterval:         c.WebRTC.PLIInterval,
		DisconnectedTimeout: c.WebRTC.DisconnectedTimeout,
		FailedTimeout:       c.WebRTC.FailedTimeout,
		KeepAliveInterval:   c.WebRTC.KeepAliveInterval,
		IncludeLoopback:     c.WebRTC.IncludeLoopback,
	}
	for _, s := range c.WebRTC.ICEServers {
		out.ICEServers = append(out.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

func (c *Config) ToCall() call.Config {
	return call.Config{
		Cooldown:       c.Call.Cooldown,
		RequestTimeout: c.Call.RequestTimeout,
		SendTimeout:    c.Call.SendTimeout,
	}
}
