package serialmux

import "strings"

const (
	EventTypeFrame   = "frame"
	EventTypeStatus  = "status"
	EventTypeUnknown = "unknown"
)

// ClassifyPayload inspects a detector line and returns its event type. Frame
// reports carry an "ids" array; anything else in braces is a status or
// command echo.
func ClassifyPayload(payload string) string {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, "{") {
		return EventTypeUnknown
	}
	if strings.Contains(payload, `"ids"`) {
		return EventTypeFrame
	}
	return EventTypeStatus
}
