package config

import "time"

// Config is the root configuration shared by the live client and hub.
type Config struct {
	Live       LiveConfig       `yaml:"live" toml:"live"`
	Connection ConnectionConfig `yaml:"connection" toml:"connection"`
	Hub        HubConfig        `yaml:"hub" toml:"hub"`
	Log        LogConfig        `yaml:"log" toml:"log"`
}

// LiveConfig locates the live endpoint and the credential for it.
type LiveConfig struct {
	Origin    string `yaml:"origin" toml:"origin" env:"LIVE_ORIGIN"`             // http(s) origin the endpoint is derived from
	URL       string `yaml:"url" toml:"url" env:"LIVE_URL"`                      // Explicit ws(s) URL, overrides origin
	Path      string `yaml:"path" toml:"path" env:"LIVE_PATH"`                   // Endpoint path on the origin host
	Token     string `yaml:"token" toml:"token" env:"LIVE_TOKEN"`                // Static auth token
	TokenFile string `yaml:"token_file" toml:"token_file" env:"LIVE_TOKEN_FILE"` // File re-read on every authentication
}

// ConnectionConfig holds client reconnect and transport settings.
type ConnectionConfig struct {
	BackoffFloor         time.Duration `yaml:"backoff_floor" toml:"backoff_floor" env:"LIVE_BACKOFF_FLOOR"`
	BackoffStep          time.Duration `yaml:"backoff_step" toml:"backoff_step" env:"LIVE_BACKOFF_STEP"`
	BackoffMax           time.Duration `yaml:"backoff_max" toml:"backoff_max" env:"LIVE_BACKOFF_MAX"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts" env:"LIVE_MAX_RECONNECT_ATTEMPTS"`
	RequestTimeout       time.Duration `yaml:"request_timeout" toml:"request_timeout" env:"LIVE_REQUEST_TIMEOUT"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout" toml:"handshake_timeout" env:"LIVE_HANDSHAKE_TIMEOUT"`
	WriteTimeout         time.Duration `yaml:"write_timeout" toml:"write_timeout" env:"LIVE_WRITE_TIMEOUT"`
	PingInterval         time.Duration `yaml:"ping_interval" toml:"ping_interval" env:"LIVE_PING_INTERVAL"`
	PingTimeout          time.Duration `yaml:"ping_timeout" toml:"ping_timeout" env:"LIVE_PING_TIMEOUT"`
}

// HubConfig holds settings for the development hub server.
type HubConfig struct {
	Listen         string        `yaml:"listen" toml:"listen" env:"LIVE_HUB_LISTEN"`
	Secret         string        `yaml:"secret" toml:"secret" env:"LIVE_HUB_SECRET"` // HS256 signing key
	Issuer         string        `yaml:"issuer" toml:"issuer" env:"LIVE_HUB_ISSUER"`
	TokenTTL       time.Duration `yaml:"token_ttl" toml:"token_ttl" env:"LIVE_HUB_TOKEN_TTL"`
	DevTokens      bool          `yaml:"dev_tokens" toml:"dev_tokens" env:"LIVE_HUB_DEV_TOKENS"` // Serve POST /api/token
	AllowedOrigins []string      `yaml:"allowed_origins" toml:"allowed_origins" env:"LIVE_HUB_ALLOWED_ORIGINS" envSeparator:","`
	WriteTimeout   time.Duration `yaml:"write_timeout" toml:"write_timeout" env:"LIVE_HUB_WRITE_TIMEOUT"`
	PingInterval   time.Duration `yaml:"ping_interval" toml:"ping_interval" env:"LIVE_HUB_PING_INTERVAL"`
	ReadTimeout    time.Duration `yaml:"read_timeout" toml:"read_timeout" env:"LIVE_HUB_READ_TIMEOUT"`
	ReadLimit      int64         `yaml:"read_limit" toml:"read_limit" env:"LIVE_HUB_READ_LIMIT"`
	SendBuffer     int           `yaml:"send_buffer" toml:"send_buffer" env:"LIVE_HUB_SEND_BUFFER"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LIVE_LOG_LEVEL"`    // debug, info, warn, error
	Format string `yaml:"format" toml:"format" env:"LIVE_LOG_FORMAT"` // text or json
}
