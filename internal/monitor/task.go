package monitor

import (
	"fmt"
	"time"
)

// Status is the tri-state availability of a monitored page.
type Status int

const (
	StatusUnknown Status = iota
	StatusUnavailable
	StatusAvailable
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "available":
		*s = StatusAvailable
	case "unavailable":
		*s = StatusUnavailable
	case "unknown", "":
		*s = StatusUnknown
	default:
		return fmt.Errorf("unknown status %q", string(b))
	}
	return nil
}

// Task is a snapshot of one subscriber's monitoring session.
// The live copy is owned by the Registry; everything else sees values.
type Task struct {
	ID           string    `json:"id"`
	SubscriberID string    `json:"subscriber_id"`
	TargetURL    string    `json:"target_url"`
	LastStatus   Status    `json:"last_status"`
	CheckCount   int       `json:"check_count"`
	StartTime    time.Time `json:"start_time"`
	LastEvidence time.Time `json:"last_evidence,omitzero"`
}

// Elapsed returns how long the task has been running at now.
func (t Task) Elapsed(now time.Time) time.Duration {
	return now.Sub(t.StartTime)
}

// HasEvidence reports whether evidence was ever emitted for this task.
func (t Task) HasEvidence() bool {
	return !t.LastEvidence.IsZero()
}

// ProbeResult is the outcome of a single availability probe.
type ProbeResult struct {
	Signal  Status
	Errored bool
	Reason  string
	Title   string
	Latency time.Duration
}
