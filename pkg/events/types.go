package events

import "encoding/json"

// Event name constants
const (
	Progress = "progress"
	Error    = "error"
	Sensors  = "sensors"
	Position = "position"
)

// Event is a generic event from the daemon, fanned out to websocket
// subscribers.
type Event struct {
	Name string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ProgressEvent reports a long operation's advance, e.g. a batch
// extraction or an inventory sweep.
type ProgressEvent struct {
	Step    int    `json:"step"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// ErrorEvent carries a fault surfaced by a background operation.
type ErrorEvent struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// PositionEvent is the carriage position after a completed move.
type PositionEvent struct {
	X    int `json:"x"`
	Y    int `json:"y"`
	Tray int `json:"tray"`
}

// SensorsEvent mirrors the limit sensor states.
type SensorsEvent struct {
	XBegin    bool `json:"xBegin"`
	YBegin    bool `json:"yBegin"`
	TrayBegin bool `json:"trayBegin"`
	TrayEnd   bool `json:"trayEnd"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is
// empty, it returns the zero value of T with a nil error.
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
