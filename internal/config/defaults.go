package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultPath             = "/api/live"
	DefaultBackoffFloor     = 500 * time.Millisecond
	DefaultBackoffStep      = 500 * time.Millisecond
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPingTimeout      = 60 * time.Second
	DefaultHubListen        = ":8080"
	DefaultHubIssuer        = "live"
	DefaultTokenTTL         = 24 * time.Hour
	DefaultHubReadTimeout   = 90 * time.Second
	DefaultHubReadLimit     = 1 << 20
	DefaultHubSendBuffer    = 256
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

func (c *Config) applyDefaults() {
	// Live defaults
	if c.Live.Path == "" {
		c.Live.Path = DefaultPath
	}

	// Connection defaults
	if c.Connection.BackoffFloor == 0 {
		c.Connection.BackoffFloor = DefaultBackoffFloor
	}
	if c.Connection.BackoffStep == 0 {
		c.Connection.BackoffStep = DefaultBackoffStep
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}

	// Hub defaults
	if c.Hub.Listen == "" {
		c.Hub.Listen = DefaultHubListen
	}
	if c.Hub.Issuer == "" {
		c.Hub.Issuer = DefaultHubIssuer
	}
	if c.Hub.TokenTTL == 0 {
		c.Hub.TokenTTL = DefaultTokenTTL
	}
	if c.Hub.WriteTimeout == 0 {
		c.Hub.WriteTimeout = DefaultWriteTimeout
	}
	if c.Hub.PingInterval == 0 {
		c.Hub.PingInterval = DefaultPingInterval
	}
	if c.Hub.ReadTimeout == 0 {
		c.Hub.ReadTimeout = DefaultHubReadTimeout
	}
	if c.Hub.ReadLimit == 0 {
		c.Hub.ReadLimit = DefaultHubReadLimit
	}
	if c.Hub.SendBuffer == 0 {
		c.Hub.SendBuffer = DefaultHubSendBuffer
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
