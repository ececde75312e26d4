package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultPingTimeout          = 90 * time.Second
	DefaultSocketBufferSize     = 256
	DefaultInteractionRate      = 10.0
	DefaultInteractionBurst     = 20
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultArchiveBufferSize    = 10000
	DefaultRelayAddr            = "localhost:6379"
	DefaultChannelPrefix        = "qms"
	DefaultHealthPort           = 8081
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

func (c *ListenerConfig) applyDefaults() {
	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Realtime defaults
	rt := &c.Realtime
	if rt.ReconnectBaseDelay == 0 {
		rt.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if rt.ReconnectMaxDelay == 0 {
		rt.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if rt.MaxReconnectAttempts == 0 {
		rt.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if rt.HandshakeTimeout == 0 {
		rt.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if rt.WriteTimeout == 0 {
		rt.WriteTimeout = DefaultWriteTimeout
	}
	if rt.PingInterval == 0 {
		rt.PingInterval = DefaultPingInterval
	}
	if rt.PingTimeout == 0 {
		rt.PingTimeout = DefaultPingTimeout
	}
	if rt.BufferSize == 0 {
		rt.BufferSize = DefaultSocketBufferSize
	}
	if rt.InteractionRate == 0 {
		rt.InteractionRate = DefaultInteractionRate
	}
	if rt.InteractionBurst == 0 {
		rt.InteractionBurst = DefaultInteractionBurst
	}

	// Archive defaults
	applyDBDefaults(&c.Archive.Database)
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultArchiveBufferSize
	}

	// Relay defaults
	if c.Relay.Addr == "" {
		c.Relay.Addr = DefaultRelayAddr
	}
	if c.Relay.ChannelPrefix == "" {
		c.Relay.ChannelPrefix = DefaultChannelPrefix
	}

	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
