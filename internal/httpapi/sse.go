// Package httpapi exposes the Orchestrator over HTTP as Server-Sent Events,
// grounded on the teacher's router/handler layering (internal/http/router,
// internal/http/handler) and its agent_status.go SSE writer.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}

func sseWrite(w http.ResponseWriter, event string, data any) {
	payload := marshalPayload(data)
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(payload, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}

func marshalPayload(data any) string {
	switch payload := data.(type) {
	case string:
		return payload
	case []byte:
		return string(payload)
	default:
		bytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(bytes)
	}
}
