package notify

import (
	"context"

	"github.com/samber/mo"
)

// Payload is one notification to deliver
type Payload struct {
	// Message is the notification body, in plain text with optional markup
	// that senders may rewrite for their transport.
	Message string
	// ImageURL, when present, is attached as media with the message as caption.
	ImageURL mo.Option[string]
	// Silent delivers without triggering client-side alerts.
	Silent bool
}

// Sender delivers payloads to a single configured channel
type Sender interface {
	// ID is the channel identifier used for per-strategy targeting.
	ID() string
	// Send delivers one payload. Implementations own their retry policy.
	Send(ctx context.Context, payload Payload) error
}

// TargetedNotification pairs a payload with the channels it should reach.
// A nil Channels slice means every configured channel.
type TargetedNotification struct {
	Payload  Payload
	Channels []string
}
