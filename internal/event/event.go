package event

import "time"

// Recognized event type tags.
const (
	TypeStatus       = "status"
	TypeCrash        = "crash"
	TypeHealth       = "health"
	TypeWarn         = "warn"
	TypeInfo         = "info"
	TypeLogLine      = "log_line"
	TypeImportantLog = "important_log"
)

// Event is an immutable notification of a state change or occurrence.
// It has no identity beyond its position in emission order.
type Event struct {
	Type     string         `json:"type"`
	TS       float64        `json:"ts"` // epoch seconds
	ServerID string         `json:"server_id,omitempty"`
	Data     map[string]any `json:"data"`
}

// New builds an event stamped with the current time.
func New(typ, serverID string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		Type:     typ,
		TS:       float64(time.Now().UnixNano()) / float64(time.Second),
		ServerID: serverID,
		Data:     data,
	}
}
