package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// CommandType tags an outbound command.
type CommandType string

const (
	RequestDashboardRefreshCmd CommandType = "request_dashboard_refresh"
	TrackUserInteractionCmd    CommandType = "track_user_interaction"
)

// Command is an outbound request. Data is stamped with "timestamp" on send.
type Command struct {
	Type CommandType
	Data map[string]any
}

// commandWire is the JSON envelope written to the socket.
type commandWire struct {
	Type CommandType    `json:"type"`
	Data map[string]any `json:"data"`
}

// Encode builds the wire envelope with data.timestamp set to now.
func (c Command) Encode(now time.Time) ([]byte, error) {
	data := make(map[string]any, len(c.Data)+1)
	for k, v := range c.Data {
		data[k] = v
	}
	data["timestamp"] = now.UTC().Format(time.RFC3339Nano)

	b, err := json.Marshal(commandWire{Type: c.Type, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s command: %w", c.Type, err)
	}
	return b, nil
}

// Interaction is a user action reported for analytics.
type Interaction struct {
	Action    string
	Component string
	Metadata  map[string]any
}

// Send writes cmd if the socket is open. Otherwise the command is dropped with
// a warning; nothing is queued. Returns whether the frame was written.
func (m *Manager) Send(cmd Command) bool {
	c := m.openClient()
	if c == nil {
		m.dropped.Add(1)
		m.logger.Warn("socket not open, dropping command", "type", cmd.Type)
		return false
	}

	data, err := cmd.Encode(m.now())
	if err != nil {
		m.dropped.Add(1)
		m.logger.Warn("dropping command", "type", cmd.Type, "error", err)
		return false
	}

	if err := c.Send(data); err != nil {
		m.dropped.Add(1)
		m.logger.Warn("failed to send command", "type", cmd.Type, "error", err)
		return false
	}

	m.sent.Add(1)
	return true
}

// RequestDashboardRefresh asks the server to push fresh dashboard data.
func (m *Manager) RequestDashboardRefresh(departmentID string) bool {
	data := map[string]any{}
	if departmentID != "" {
		data["department_id"] = departmentID
	}
	return m.Send(Command{Type: RequestDashboardRefreshCmd, Data: data})
}

// openClient returns the current client if its socket is open, or nil.
func (m *Manager) openClient() Client {
	m.mu.Lock()
	c := m.client
	m.mu.Unlock()

	if c == nil || c.State() != StateConnected {
		return nil
	}
	return c
}

// TrackInteraction reports a user interaction. Interactions over the configured
// rate are dropped. Interactions dropped while the socket is closed do not
// count against the rate.
func (m *Manager) TrackInteraction(i Interaction) bool {
	if m.openClient() == nil {
		m.dropped.Add(1)
		m.logger.Warn("socket not open, dropping command", "type", TrackUserInteractionCmd)
		return false
	}
	if !m.limiter.Allow() {
		m.dropped.Add(1)
		m.logger.Debug("interaction rate exceeded, dropping", "action", i.Action)
		return false
	}

	data := map[string]any{
		"action":    i.Action,
		"component": i.Component,
	}
	if len(i.Metadata) > 0 {
		data["metadata"] = i.Metadata
	}
	return m.Send(Command{Type: TrackUserInteractionCmd, Data: data})
}
