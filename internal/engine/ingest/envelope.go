package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const envelopeKey = "form_response"

// parseEnvelope checks that body is a JSON object carrying a form_response
// object, and returns the provider event id if there is one.
func parseEnvelope(body []byte) (eventID string, err error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return "", fmt.Errorf("%w: body is not a JSON object", ErrMalformedPayload)
	}

	fr, ok := top[envelopeKey]
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrMalformedPayload, envelopeKey)
	}
	if fr = bytes.TrimSpace(fr); len(fr) == 0 || fr[0] != '{' {
		return "", fmt.Errorf("%w: %s is not an object", ErrMalformedPayload, envelopeKey)
	}

	if raw, ok := top["event_id"]; ok {
		// Non-string ids are ignored rather than rejected.
		if err := json.Unmarshal(raw, &eventID); err != nil {
			eventID = ""
		}
	}
	return eventID, nil
}

// caseNumber is the provider event id, or a timestamp fallback when absent.
func caseNumber(eventID string, now time.Time) string {
	if eventID != "" {
		return eventID
	}
	return fmt.Sprintf("CASE-%d", now.UnixMilli())
}
