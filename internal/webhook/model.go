package webhook

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sydlexius/musicmap/internal/event"
)

// Sentinel errors returned by Service.
var (
	ErrNotFound = errors.New("webhook not found")
	ErrInvalid  = errors.New("invalid webhook")
)

// Webhook represents a configured webhook endpoint. The delivery fields are
// maintained by the dispatcher and ignored on create and update.
type Webhook struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Type      string    `json:"type"`
	Events    []string  `json:"events"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	LastDeliveryAt      time.Time `json:"last_delivery_at,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Webhook types.
const (
	TypeGeneric = "generic"
	TypeDiscord = "discord"
	TypeSlack   = "slack"
	TypeGotify  = "gotify"
)

// validate fills defaults and rejects malformed webhooks.
func (w *Webhook) validate() error {
	if w.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if w.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalid)
	}
	u, err := url.Parse(w.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalid)
	}
	switch w.Type {
	case "":
		w.Type = TypeGeneric
	case TypeGeneric, TypeDiscord, TypeSlack, TypeGotify:
	default:
		return fmt.Errorf("%w: unknown webhook type %q", ErrInvalid, w.Type)
	}
	if w.Events == nil {
		w.Events = []string{}
	}
	for _, e := range w.Events {
		if !event.Type(e).Valid() {
			return fmt.Errorf("%w: unknown event type %q", ErrInvalid, e)
		}
	}
	return nil
}

// Subscribed reports whether w should receive events of type t.
func (w *Webhook) Subscribed(t event.Type) bool {
	if !w.Enabled {
		return false
	}
	for _, e := range w.Events {
		if e == string(t) {
			return true
		}
	}
	return false
}
