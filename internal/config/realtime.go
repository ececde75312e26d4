package config

import "github.com/qmsportal/qms-realtime/internal/realtime"

// ManagerConfig converts the realtime and session sections into manager settings.
func (c *ListenerConfig) ManagerConfig() realtime.ManagerConfig {
	rt := c.Realtime
	return realtime.ManagerConfig{
		BaseURL: c.API.WSURL,
		Room:    c.Session.Room,
		Backoff: realtime.Backoff{
			Base:        rt.ReconnectBaseDelay,
			Max:         rt.ReconnectMaxDelay,
			MaxAttempts: rt.MaxReconnectAttempts,
		},
		HandshakeTimeout: rt.HandshakeTimeout,
		PingInterval:     rt.PingInterval,
		PingTimeout:      rt.PingTimeout,
		WriteTimeout:     rt.WriteTimeout,
		BufferSize:       rt.BufferSize,
		InteractionRate:  rt.InteractionRate,
		InteractionBurst: rt.InteractionBurst,
	}
}
