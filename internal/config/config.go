package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BioHazard786/huddle/internal/callerr"
)

// Default configuration values (production)
const (
	DefaultDomain            = "huddle.studybuddy.app"
	DefaultSTUN              = "stun:stun.l.google.com:19302"
	DefaultStore             = StoreServer
	DefaultRedisURL          = "redis://localhost:6379/0"
	DefaultListenAddr        = ":8080"
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultStaleAfter        = 30 * time.Second
	DefaultSendRetries       = 3
	DefaultAbandonAfter      = 10 * time.Minute
)

// Store backends
const (
	StoreServer = "server"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

const invitePath = "/groups/join/"

// Config holds application configuration
type Config struct {
	// Domain is the store server domain
	Domain string

	// Origin prefixes invite links, e.g. https://huddle.studybuddy.app
	Origin string

	// WebSocketURL is constructed from domain
	WebSocketURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// Presence and relay store
	StoreBackend string
	RedisURL     string
	ListenAddr   string

	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	SendRetries       int
	AbandonAfter      time.Duration
	AutoRetry         bool
}

// Options for loading config with CLI flag overrides. Zero values mean "not set".
type Options struct {
	Domain       string
	Origin       string
	STUNServer   string
	TURNServer   string
	TURNUser     string
	TURNPass     string
	ForceRelay   bool
	StoreBackend string
	RedisURL     string
	ListenAddr   string
	AbandonAfter time.Duration
	AutoRetry    bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (a .env file in the working directory is loaded first)
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Domain:       pick(opts.Domain, "DOMAIN", DefaultDomain),
		STUNServer:   pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer:   pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:     pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:     pick(opts.TURNPass, "TURN_PASSWORD", ""),
		StoreBackend: pick(opts.StoreBackend, "STORE", DefaultStore),
		RedisURL:     pick(opts.RedisURL, "REDIS_URL", DefaultRedisURL),
		ListenAddr:   pick(opts.ListenAddr, "LISTEN_ADDR", DefaultListenAddr),
		ForceRelay:   opts.ForceRelay || envBool("FORCE_RELAY"),
		AutoRetry:    opts.AutoRetry || envBool("AUTO_RETRY"),
	}

	var err error
	if cfg.HeartbeatInterval, err = envDuration("HEARTBEAT_INTERVAL", DefaultHeartbeatInterval); err != nil {
		return nil, err
	}
	if cfg.StaleAfter, err = envDuration("STALE_AFTER", DefaultStaleAfter); err != nil {
		return nil, err
	}
	cfg.AbandonAfter = opts.AbandonAfter
	if cfg.AbandonAfter == 0 {
		if cfg.AbandonAfter, err = envDuration("ABANDON_AFTER", DefaultAbandonAfter); err != nil {
			return nil, err
		}
	}
	cfg.SendRetries = DefaultSendRetries
	if v := os.Getenv("SEND_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, callerr.Wrap(callerr.KindConfig, "load", errors.New("invalid SEND_RETRIES"), v)
		}
		cfg.SendRetries = n
	}

	cfg.Origin = strings.TrimRight(pick(opts.Origin, "ORIGIN", "https://"+cfg.Domain), "/")
	cfg.WebSocketURL = fmt.Sprintf("%s://%s/ws", wsScheme(cfg.Domain), cfg.Domain)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the relationships between settings.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreServer, StoreRedis, StoreMemory:
	default:
		return callerr.Wrap(callerr.KindConfig, "validate", errors.New("unknown store backend"), c.StoreBackend)
	}
	if c.HeartbeatInterval <= 0 || c.StaleAfter <= 0 || c.AbandonAfter <= 0 {
		return callerr.New(callerr.KindConfig, "validate", errors.New("durations must be positive"))
	}
	if c.HeartbeatInterval >= c.StaleAfter {
		return callerr.Wrap(callerr.KindConfig, "validate",
			errors.New("heartbeat interval must be shorter than the staleness threshold"),
			fmt.Sprintf("%s >= %s", c.HeartbeatInterval, c.StaleAfter))
	}
	if c.ForceRelay && c.GetTURNServers() == nil {
		return callerr.New(callerr.KindConfig, "validate", errors.New("cannot force relay mode without TURN server configured"))
	}
	return nil
}

// InviteLink returns the share link for a room: <origin>/groups/join/<roomId>
func (c *Config) InviteLink(roomID string) string {
	return BuildInviteLink(c.Origin, roomID)
}

func BuildInviteLink(origin, roomID string) string {
	return strings.TrimRight(origin, "/") + invitePath + url.PathEscape(roomID)
}

// ParseInviteLink accepts a bare room ID or an invite link and returns the room ID.
func ParseInviteLink(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", callerr.New(callerr.KindConfig, "parse invite", callerr.ErrInvalidID)
	}
	if !strings.Contains(s, "/") {
		return s, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", callerr.Wrap(callerr.KindConfig, "parse invite", err, s)
	}
	path := strings.TrimRight(u.Path, "/")
	i := strings.LastIndex(path, invitePath)
	if i < 0 {
		return "", callerr.Wrap(callerr.KindConfig, "parse invite", callerr.ErrInvalidID, s)
	}
	roomID, err := url.PathUnescape(path[i+len(invitePath):])
	if err != nil || roomID == "" || strings.Contains(roomID, "/") {
		return "", callerr.Wrap(callerr.KindConfig, "parse invite", callerr.ErrInvalidID, s)
	}
	return roomID, nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", strings.TrimPrefix(c.TURNServer, "turn:")),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, callerr.Wrap(callerr.KindConfig, "load", err, key)
	}
	return d, nil
}

// APIURL is the base URL of the store server's HTTP API.
func (c *Config) APIURL() string {
	scheme := "https"
	if wsScheme(c.Domain) == "ws" {
		scheme = "http"
	}
	return scheme + "://" + c.Domain
}

func wsScheme(domain string) string {
	host := domain
	if h, _, ok := strings.Cut(domain, ":"); ok {
		host = h
	}
	if host == "localhost" || strings.HasPrefix(host, "127.") {
		return "ws"
	}
	return "wss"
}
