package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event is one observed unit of system activity reported by a collector.
// All attributes except the timestamp are optional; consumers must treat
// zero values as "not observed". Events are read-only once constructed.
type Event struct {
	Timestamp       time.Time `json:"timestamp"`
	EventType       string    `json:"event_type,omitempty"`
	ProcessName     string    `json:"process_name,omitempty"`
	Cmdline         string    `json:"cmdline,omitempty"`
	User            string    `json:"user,omitempty"`
	CPUUsage        float64   `json:"cpu_usage,omitempty"`
	MemoryUsage     float64   `json:"memory_usage,omitempty"`
	ThreadCount     int       `json:"thread_count,omitempty"`
	ConnectionCount int       `json:"connection_count,omitempty"`
	RemotePort      int       `json:"remote_port,omitempty"`
	HasNetwork      bool      `json:"has_network,omitempty"`
	IsSystemUser    bool      `json:"is_system_user,omitempty"`
	FilePath        string    `json:"file_path,omitempty"`
	FileAccessCount int       `json:"file_access_count,omitempty"`

	// Label carries the assigned threat category on training samples.
	Label string `json:"label,omitempty"`

	// Extra holds attributes the engine does not interpret but passes
	// through to sinks.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// Hour returns the event's hour of day, defaulting to now for zero timestamps.
func (e *Event) Hour() int {
	if e == nil || e.Timestamp.IsZero() {
		return time.Now().Hour()
	}
	return e.Timestamp.Hour()
}

// ParseEvent decodes a collector payload into an Event. Collectors emit flat
// JSON objects with loosely typed values (numbers arrive as strings from some
// agents), so every known field is coerced; unknown fields land in Extra.
func ParseEvent(data []byte) (*Event, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return EventFromMap(raw), nil
}

// EventFromMap builds an Event from a decoded attribute map.
func EventFromMap(raw map[string]interface{}) *Event {
	event := &Event{}

	if ts := getString(raw, "timestamp", "@timestamp"); ts != "" {
		if t, ok := parseTimestamp(ts); ok {
			event.Timestamp = t
		}
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	event.EventType = getString(raw, "event_type")
	event.ProcessName = getString(raw, "process_name")
	event.Cmdline = getString(raw, "cmdline")
	event.User = getString(raw, "user", "username")
	event.CPUUsage = getFloat(raw, "cpu_usage")
	event.MemoryUsage = getFloat(raw, "memory_usage")
	event.ThreadCount = getInt(raw, "thread_count")
	event.ConnectionCount = getInt(raw, "connection_count", "connections")
	event.RemotePort = getInt(raw, "remote_port")
	event.HasNetwork = getInt(raw, "has_network") != 0 || getBool(raw, "has_network")
	event.IsSystemUser = getInt(raw, "is_system_user") != 0 || getBool(raw, "is_system_user")
	event.FilePath = getString(raw, "file_path")
	event.FileAccessCount = getInt(raw, "file_access_count")
	event.Label = getString(raw, "label")

	known := map[string]struct{}{
		"timestamp": {}, "@timestamp": {}, "event_type": {}, "process_name": {},
		"cmdline": {}, "user": {}, "username": {}, "cpu_usage": {},
		"memory_usage": {}, "thread_count": {}, "connection_count": {},
		"connections": {}, "remote_port": {}, "has_network": {},
		"is_system_user": {}, "file_path": {}, "file_access_count": {}, "label": {},
	}
	for k, v := range raw {
		if _, ok := known[k]; ok {
			continue
		}
		if event.Extra == nil {
			event.Extra = make(map[string]interface{})
		}
		event.Extra[k] = v
	}

	return event
}

// AttributeMap flattens the event back into the collector's wire shape,
// used when matching declarative detection rules against raw fields.
func (e *Event) AttributeMap() map[string]interface{} {
	buf := make(map[string]interface{}, len(e.Extra)+12)
	for k, v := range e.Extra {
		buf[k] = v
	}
	buf["timestamp"] = e.Timestamp.Format(time.RFC3339)
	if e.EventType != "" {
		buf["event_type"] = e.EventType
	}
	if e.ProcessName != "" {
		buf["process_name"] = e.ProcessName
		buf["Image"] = e.ProcessName
	}
	if e.Cmdline != "" {
		buf["cmdline"] = e.Cmdline
		buf["CommandLine"] = e.Cmdline
	}
	if e.User != "" {
		buf["user"] = e.User
		buf["User"] = e.User
	}
	if e.FilePath != "" {
		buf["file_path"] = e.FilePath
		buf["TargetFilename"] = e.FilePath
	}
	if e.RemotePort != 0 {
		buf["remote_port"] = e.RemotePort
		buf["DestinationPort"] = e.RemotePort
	}
	return buf
}

func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05.999999",
		"2006-01-02 15:04:05.999999",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func getString(root map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		v, ok := root[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			return val
		case fmt.Stringer:
			return val.String()
		case float64:
			if val == float64(int64(val)) {
				return strconv.FormatInt(int64(val), 10)
			}
			return strconv.FormatFloat(val, 'f', -1, 64)
		case int:
			return strconv.Itoa(val)
		case bool:
			return strconv.FormatBool(val)
		}
	}
	return ""
}

func getFloat(root map[string]interface{}, keys ...string) float64 {
	for _, key := range keys {
		v, ok := root[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case float64:
			return val
		case int:
			return float64(val)
		case int64:
			return float64(val)
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
				return parsed
			}
		}
	}
	return 0
}

func getInt(root map[string]interface{}, keys ...string) int {
	return int(getFloat(root, keys...))
}

func getBool(root map[string]interface{}, keys ...string) bool {
	for _, key := range keys {
		if v, ok := root[key].(bool); ok {
			return v
		}
	}
	return false
}
