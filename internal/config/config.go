// Package config resolves the relay's runtime settings. Built-in defaults
// are overridden by an optional YAML file, then by environment variables,
// then by command-line flags.
package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/andy6609/chat-relay/internal/presence"
)

type Config struct {
	Addr     string `mapstructure:"addr"`      // TCP line protocol listener
	HTTPAddr string `mapstructure:"http_addr"` // HTTP API, WebSocket and metrics listener

	DatabaseURL   string        `mapstructure:"database_url"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl"`

	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`

	Supersede      string   `mapstructure:"supersede"` // "close" or "keep"
	LogLevel       string   `mapstructure:"log_level"`
	RateLimit      float64  `mapstructure:"rate_limit"` // messages per second per connection; 0 disables
	RateBurst      int      `mapstructure:"rate_burst"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxMessageLen  int      `mapstructure:"max_message_len"`
	BcryptCost     int      `mapstructure:"bcrypt_cost"`

	HubBuffer     int           `mapstructure:"hub_buffer"`
	MirrorBuffer  int           `mapstructure:"mirror_buffer"`
	MirrorTimeout time.Duration `mapstructure:"mirror_timeout"`
}

type setting struct {
	key   string
	env   string
	flag  string // empty: not settable from the command line
	def   any
	usage string
}

var settings = []setting{
	{"addr", "CHAT_ADDR", "addr", ":5000", "chat listen address"},
	{"http_addr", "HTTP_ADDR", "http-addr", ":9090", "http api, websocket and metrics listen address"},
	{"database_url", "DATABASE_URL", "database-url", "", "postgres url for the account store; empty keeps accounts in memory"},
	{"redis_addr", "REDIS_ADDR", "redis-addr", "", "redis address for the presence mirror; empty disables it"},
	{"redis_password", "REDIS_PASSWORD", "redis-password", "", "redis password"},
	{"redis_db", "REDIS_DB", "redis-db", 0, "redis database number"},
	{"redis_ttl", "REDIS_TTL", "redis-ttl", 24 * time.Hour, "expiry of mirrored presence keys"},
	{"jwt_secret", "JWT_SECRET", "jwt-secret", "", "hmac secret for login tokens; empty disables token login"},
	{"token_ttl", "TOKEN_TTL", "token-ttl", 2 * time.Hour, "login token lifetime"},
	{"supersede", "SUPERSEDE_POLICY", "supersede", "close", "what happens to a superseded connection: close or keep"},
	{"log_level", "LOG_LEVEL", "log-level", "info", "debug, info, warn or error"},
	{"rate_limit", "RATE_LIMIT", "rate-limit", 5.0, "messages per second per connection; 0 disables"},
	{"rate_burst", "RATE_LIMIT_BURST", "rate-burst", 5, "rate limiter burst"},
	{"allowed_origins", "ALLOWED_ORIGINS", "allowed-origins", "", "comma separated browser origins for the api and websocket; empty allows any"},
	{"max_message_len", "MAX_MESSAGE_LEN", "max-message-len", 512, "longer messages are truncated"},
	{"bcrypt_cost", "BCRYPT_COST", "bcrypt-cost", bcrypt.DefaultCost, "bcrypt cost for stored passwords"},
	{"hub_buffer", "HUB_BUFFER", "", 256, ""},
	{"mirror_buffer", "MIRROR_BUFFER", "", 1024, ""},
	{"mirror_timeout", "MIRROR_TIMEOUT", "", 3 * time.Second, ""},
}

// flagOutput receives usage text on flag parse errors.
var flagOutput io.Writer = os.Stderr

// Load builds a Config from args (normally os.Args[1:]) layered over the
// process environment and the file named by -config or CHAT_CONFIG.
func Load(args []string) (*Config, error) {
	v := viper.New()
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		if err := v.BindEnv(s.key, s.env); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", s.env, err)
		}
	}

	fs := flag.NewFlagSet("chat-relay", flag.ContinueOnError)
	fs.SetOutput(flagOutput)
	configFile := fs.String("config", os.Getenv("CHAT_CONFIG"), "optional yaml config file")
	for _, s := range settings {
		if s.flag != "" {
			fs.String(s.flag, fmt.Sprint(s.def), s.usage)
		}
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", *configFile, err)
		}
	}

	// Only flags given explicitly override lower layers.
	byFlag := make(map[string]string, len(settings))
	for _, s := range settings {
		byFlag[s.flag] = s.key
	}
	fs.Visit(func(f *flag.Flag) {
		if key, ok := byFlag[f.Name]; ok {
			v.Set(key, f.Value.String())
		}
	})

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.AllowedOrigins = cleanList(cfg.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: empty chat address")
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("config: empty http address")
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("config: negative rate limit %v", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("config: rate burst must be positive, got %d", c.RateBurst)
	}
	if c.MaxMessageLen <= 0 {
		return fmt.Errorf("config: max message length must be positive, got %d", c.MaxMessageLen)
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("config: bcrypt cost %d out of range [%d, %d]", c.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("config: token ttl must be positive, got %s", c.TokenTTL)
	}
	if c.RedisTTL < 0 {
		return fmt.Errorf("config: negative redis ttl %s", c.RedisTTL)
	}
	for _, o := range c.AllowedOrigins {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			return fmt.Errorf("config: allowed origin %q must be * or start with http:// or https://", o)
		}
	}
	if c.HubBuffer <= 0 || c.MirrorBuffer <= 0 || c.MirrorTimeout <= 0 {
		return fmt.Errorf("config: hub and mirror buffers and mirror timeout must be positive")
	}
	return nil
}

func (c *Config) Policy() (presence.SupersedePolicy, error) {
	switch strings.ToLower(c.Supersede) {
	case "close", "":
		return presence.SupersedeClose, nil
	case "keep", "keep-open":
		return presence.SupersedeKeepOpen, nil
	default:
		return 0, fmt.Errorf("config: unknown supersede policy %q", c.Supersede)
	}
}

func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log level: %w", err)
	}
	return l, nil
}

func cleanList(in []string) []string {
	var out []string
	for _, part := range in {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
