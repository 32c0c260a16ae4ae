package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all values are usable. Endpoint and credential
// presence are checked by ValidateClient and ValidateHub, since each
// binary needs only its own half.
func (c *Config) Validate() error {
	conn := c.Connection
	if conn.BackoffFloor < 0 || conn.BackoffStep < 0 || conn.BackoffMax < 0 {
		return errors.New("connection backoff durations must be >= 0")
	}
	if conn.BackoffMax > 0 && conn.BackoffMax < conn.BackoffFloor {
		return fmt.Errorf("connection.backoff_max (%s) cannot be below backoff_floor (%s)", conn.BackoffMax, conn.BackoffFloor)
	}
	if conn.MaxReconnectAttempts < 0 {
		return errors.New("connection.max_reconnect_attempts must be >= 0")
	}
	if conn.RequestTimeout < 0 {
		return errors.New("connection.request_timeout must be >= 0")
	}

	if c.Hub.SendBuffer < 1 {
		return errors.New("hub.send_buffer must be >= 1")
	}
	if c.Hub.ReadLimit < 0 {
		return errors.New("hub.read_limit must be >= 0")
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// ValidateClient checks the settings a live client needs.
func (c *Config) ValidateClient() error {
	if c.Live.URL == "" && c.Live.Origin == "" {
		return errors.New("live.url or live.origin is required")
	}
	if c.Live.Token == "" && c.Live.TokenFile == "" {
		return errors.New("live.token or live.token_file is required")
	}
	return nil
}

// ValidateHub checks the settings the hub server needs.
func (c *Config) ValidateHub() error {
	if c.Hub.Secret == "" {
		return errors.New("hub.secret is required")
	}
	if c.Hub.Listen == "" {
		return errors.New("hub.listen is required")
	}
	return nil
}
