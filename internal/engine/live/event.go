package live

import "encoding/json"

const (
	EventConnected   = "connected"
	EventNewResponse = "newResponse"
)

// Event is the server-to-client push message.
type Event struct {
	Type         string          `json:"type"`
	WebhookID    int64           `json:"webhookId,omitempty"`
	ResponseData json.RawMessage `json:"responseData,omitempty"`
}

func NewResponseEvent(webhookID int64, responseData json.RawMessage) Event {
	return Event{Type: EventNewResponse, WebhookID: webhookID, ResponseData: responseData}
}

// Report summarises one broadcast, one outcome per connection in the snapshot.
type Report struct {
	Delivered int `json:"delivered"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}
