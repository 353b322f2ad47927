package bridge

import (
	"encoding/base64"
	"encoding/json"

	"github.com/srg/kbridge/internal/device"
	"github.com/srg/kbridge/internal/events"
)

// Request is a method call sent by a client. ID is echoed back verbatim and may be any
// JSON value.
type Request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// Reply answers exactly one Request.
type Reply struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  *ErrorPayload   `json:"error,omitempty"`
}

// ErrorPayload carries the error tag and a human-readable message.
type ErrorPayload struct {
	Code    device.Code `json:"code"`
	Message string      `json:"message"`
}

// EventFrame is pushed to every client for each stream event.
type EventFrame struct {
	Event events.Kind `json:"event"`
	Data  any         `json:"data"`
}

func errorPayload(err error) *ErrorPayload {
	return &ErrorPayload{Code: device.CodeOf(err), Message: err.Error()}
}

type adapterStateData struct {
	State string `json:"state"`
}

type connectionStateData struct {
	ID     string `json:"identifier"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

type notificationData struct {
	ID      string `json:"identifier"`
	Code    int    `json:"eventCode"`
	Payload string `json:"payloadBase64"`
}

// encodeEvent maps a stream event onto its wire frame.
func encodeEvent(ev events.Event) EventFrame {
	frame := EventFrame{Event: ev.Kind()}
	switch e := ev.(type) {
	case events.AdapterState:
		frame.Data = adapterStateData{State: e.State.String()}
	case events.Discovery:
		frame.Data = e
	case events.ConnectionState:
		data := connectionStateData{ID: e.ID, State: e.State.String()}
		if e.Reason != nil {
			data.Reason = e.Reason.Error()
		}
		frame.Data = data
	case events.Notification:
		frame.Data = notificationData{
			ID:      e.ID,
			Code:    e.Code,
			Payload: base64.StdEncoding.EncodeToString(e.Payload),
		}
	default:
		frame.Data = ev
	}
	return frame
}
