package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// UpdateType tags an update pushed by the server.
type UpdateType string

const (
	MetricUpdateType     UpdateType = "metric_update"
	DashboardRefreshType UpdateType = "dashboard_refresh"
	AlertType            UpdateType = "alert"
	UserActivityType     UpdateType = "user_activity"

	// AnyUpdate subscribes to every update regardless of tag. Never sent on the wire.
	AnyUpdate UpdateType = "*"
)

// Valid reports whether t is one of the wire tags.
func (t UpdateType) Valid() bool {
	switch t {
	case MetricUpdateType, DashboardRefreshType, AlertType, UserActivityType:
		return true
	}
	return false
}

// Update is a single server-pushed message.
type Update struct {
	Type         UpdateType
	Data         json.RawMessage // Opaque, shape defined per tag
	Timestamp    time.Time       // Zero if the server sent none or it did not parse
	DepartmentID string
	UserID       string

	Raw        []byte    // Original frame
	ReceivedAt time.Time // Local receive time
}

// updateWire is the JSON shape of an update frame.
type updateWire struct {
	Type         string          `json:"type"`
	Data         json.RawMessage `json:"data"`
	Timestamp    string          `json:"timestamp"`
	DepartmentID flexID          `json:"department_id"`
	UserID       flexID          `json:"user_id"`
}

// flexID accepts identifiers sent either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be string or number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// DecodeUpdate parses a raw frame. Payload shape is not validated.
func DecodeUpdate(data []byte) (Update, error) {
	var w updateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Update{}, fmt.Errorf("%w: %w", ErrMalformedUpdate, err)
	}
	if w.Type == "" {
		return Update{}, fmt.Errorf("%w: missing type", ErrMalformedUpdate)
	}
	t := UpdateType(w.Type)
	if !t.Valid() {
		return Update{}, fmt.Errorf("%w: unknown type %q", ErrMalformedUpdate, w.Type)
	}

	u := Update{
		Type:         t,
		Data:         w.Data,
		DepartmentID: string(w.DepartmentID),
		UserID:       string(w.UserID),
		Raw:          data,
	}
	if ts, ok := parseTimestamp(w.Timestamp); ok {
		u.Timestamp = ts
	}
	return u, nil
}

// timestampLayouts are the ISO-8601 forms accepted on the wire, tried in order.
// A value without an offset is read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Payload is the closed set of typed update payloads.
type Payload interface {
	UpdateType() UpdateType
	isPayload()
}

// MetricUpdate carries a KPI value change.
type MetricUpdate struct {
	Metric       string  `json:"metric"`
	Value        float64 `json:"value"`
	Previous     float64 `json:"previous,omitempty"`
	Unit         string  `json:"unit,omitempty"`
	DepartmentID string  `json:"department_id,omitempty"`
}

// DashboardRefresh asks consumers to reload some or all dashboard sections.
type DashboardRefresh struct {
	Dashboard string   `json:"dashboard,omitempty"`
	Sections  []string `json:"sections,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Alert is a quality event that needs attention (deviation, CAPA, overdue training).
type Alert struct {
	ID       string `json:"id,omitempty"`
	Severity string `json:"severity"`
	Title    string `json:"title"`
	Message  string `json:"message,omitempty"`
	Source   string `json:"source,omitempty"`
}

// UserActivity reports an action another user took.
type UserActivity struct {
	UserID     string `json:"user_id,omitempty"`
	Action     string `json:"action"`
	Resource   string `json:"resource,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
}

func (MetricUpdate) UpdateType() UpdateType     { return MetricUpdateType }
func (DashboardRefresh) UpdateType() UpdateType { return DashboardRefreshType }
func (Alert) UpdateType() UpdateType            { return AlertType }
func (UserActivity) UpdateType() UpdateType     { return UserActivityType }

func (MetricUpdate) isPayload()     {}
func (DashboardRefresh) isPayload() {}
func (Alert) isPayload()            {}
func (UserActivity) isPayload()     {}

// DecodePayload decodes u.Data as P. Unknown fields are ignored and empty data
// yields the zero payload.
func DecodePayload[P Payload](u Update) (P, error) {
	var p P
	if p.UpdateType() != u.Type {
		return p, fmt.Errorf("%w: %s into %T", ErrPayloadMismatch, u.Type, p)
	}
	data := bytes.TrimSpace(u.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", u.Type, err)
	}
	return p, nil
}

// Payload decodes the update's data into the payload type for its tag.
func (u Update) Payload() (Payload, error) {
	switch u.Type {
	case MetricUpdateType:
		return DecodePayload[MetricUpdate](u)
	case DashboardRefreshType:
		return DecodePayload[DashboardRefresh](u)
	case AlertType:
		return DecodePayload[Alert](u)
	case UserActivityType:
		return DecodePayload[UserActivity](u)
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedUpdate, string(u.Type))
}

// String is used in log attributes.
func (u Update) String() string {
	return string(u.Type) + "@" + strconv.FormatInt(u.Timestamp.UnixMilli(), 10)
}
