package notify

import "context"

const EventAvailable = "available"

// AlertEvent is raised when a watched item becomes available.
type AlertEvent struct {
	SubscriberID string
	TaskID       string
	Type         string // EventAvailable
	Target       string
	Title        string
	Timestamp    int64
	Timezone     string // IANA timezone name, e.g. "Europe/Paris"; empty = UTC
}

// AlertSink is implemented by every out-of-band alert channel.
type AlertSink interface {
	// Type returns the channel type identifier (e.g. "webhook").
	Type() string

	// Send delivers an alert event. It should return an error if delivery fails.
	Send(ctx context.Context, event AlertEvent) error

	// Validate checks whether the channel configuration is valid.
	Validate() error
}
