package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sydlexius/musicmap/internal/event"
)

// Discord embed colors per event type.
var discordColors = map[event.Type]int{
	event.LocationResolved:   0x2ECC71,
	event.LocationUnresolved: 0xE67E22,
	event.BatchCompleted:     0x3498DB,
	event.CacheFlushFailed:   0xE74C3C,
}

// formatPayload returns the request body and content-type for a webhook delivery.
func formatPayload(w *Webhook, e event.Event) ([]byte, string) {
	var payload map[string]any
	switch w.Type {
	case TypeDiscord:
		color, ok := discordColors[e.Type]
		if !ok {
			color = 0x95A5A6
		}
		payload = map[string]any{
			"embeds": []map[string]any{{
				"title":       title(e),
				"description": describe(e),
				"color":       color,
				"timestamp":   e.Timestamp.UTC().Format(time.RFC3339),
			}},
		}
	case TypeSlack:
		payload = map[string]any{"text": fmt.Sprintf("*%s*\n%s", title(e), describe(e))}
	case TypeGotify:
		payload = map[string]any{
			"title":    title(e),
			"message":  describe(e),
			"priority": gotifyPriority(e.Type),
		}
	default:
		payload = map[string]any{
			"event":     string(e.Type),
			"timestamp": e.Timestamp,
			"data":      e.Data,
		}
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func title(e event.Event) string {
	return fmt.Sprintf("MusicMap: %s", e.Type)
}

func gotifyPriority(t event.Type) int {
	if t == event.CacheFlushFailed {
		return 8
	}
	return 4
}

// describe prefers the event's human message and falls back to its data.
func describe(e event.Event) string {
	if e.Data == nil {
		return string(e.Type)
	}
	if msg, ok := e.Data["message"].(string); ok {
		return msg
	}
	b, _ := json.Marshal(e.Data)
	return string(b)
}
