package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *ListenerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.API.WSURL == "" {
		return errors.New("api.ws_url is required")
	}
	u, err := url.Parse(c.API.WSURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("api.ws_url must be a ws:// or wss:// url, got %q", c.API.WSURL)
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if c.Session.UserID == "" {
		return errors.New("session.user_id is required")
	}

	rt := c.Realtime
	if rt.ReconnectBaseDelay <= 0 {
		return errors.New("realtime.reconnect_base_delay must be > 0")
	}
	if rt.ReconnectMaxDelay < rt.ReconnectBaseDelay {
		return fmt.Errorf("realtime.reconnect_max_delay (%v) cannot be less than reconnect_base_delay (%v)",
			rt.ReconnectMaxDelay, rt.ReconnectBaseDelay)
	}
	if rt.MaxReconnectAttempts < 0 {
		return errors.New("realtime.max_reconnect_attempts must be >= 0")
	}
	if rt.PingInterval > 0 && rt.PingTimeout <= rt.PingInterval {
		return fmt.Errorf("realtime.ping_timeout (%v) must exceed ping_interval (%v)", rt.PingTimeout, rt.PingInterval)
	}
	if rt.BufferSize < 1 {
		return errors.New("realtime.buffer_size must be >= 1")
	}
	if rt.InteractionRate < 0 {
		return errors.New("realtime.interaction_rate must be >= 0")
	}

	if c.Archive.Enabled {
		if err := c.Archive.Database.validate("archive.database"); err != nil {
			return err
		}
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
		if c.Archive.FlushInterval <= 0 {
			return fmt.Errorf("archive.flush_interval must be > 0, got %v", c.Archive.FlushInterval)
		}
		if c.Archive.BufferSize < c.Archive.BatchSize {
			return fmt.Errorf("archive.buffer_size (%d) cannot be less than batch_size (%d)",
				c.Archive.BufferSize, c.Archive.BatchSize)
		}
	}

	if c.Relay.Enabled && c.Relay.Addr == "" {
		return errors.New("relay.addr is required")
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
