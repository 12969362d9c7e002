package monitor

import (
	"time"

	"github.com/makt28/stockwatch/internal/config"
)

// ActionKind identifies an outbound notification produced by the policy.
type ActionKind int

const (
	ActionStatusMessage ActionKind = iota + 1
	ActionCaptureEvidence
	ActionAlert
	ActionErrorNotice
)

func (k ActionKind) String() string {
	switch k {
	case ActionStatusMessage:
		return "status_message"
	case ActionCaptureEvidence:
		return "capture_evidence"
	case ActionAlert:
		return "alert"
	case ActionErrorNotice:
		return "error_notice"
	default:
		return "unknown"
	}
}

// EvidenceReason says which rule asked for a capture. It only affects captions.
type EvidenceReason int

const (
	EvidenceNone EvidenceReason = iota
	EvidenceOnChange
	EvidencePeriodic
	EvidenceStale
)

// MessageKind distinguishes a status change message from a routine heartbeat.
type MessageKind int

const (
	MessageNone MessageKind = iota
	MessageChange
	MessageHeartbeat
)

// Action is one outbound step for the dispatcher, evaluated in order.
type Action struct {
	Kind     ActionKind
	Message  MessageKind
	Evidence EvidenceReason
}

// Decision is the policy output for one tick.
type Decision struct {
	Actions []Action
	Next    Task
}

// Has reports whether the decision contains an action of the given kind.
func (d Decision) Has(kind ActionKind) bool {
	for _, a := range d.Actions {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

// Policy decides what to tell a subscriber after a probe. Decide does no I/O.
type Policy struct {
	HeartbeatEvery       int           // heartbeat every N checks
	EvidenceEvery        int           // periodic capture every N checks
	EvidenceEveryMinutes int           // periodic capture on whole multiples of this many minutes
	StaleAfter           time.Duration // forced capture once the last one is older than this
}

// DefaultPolicy returns the thresholds used by the bot out of the box.
func DefaultPolicy() Policy {
	return Policy{
		HeartbeatEvery:       5,
		EvidenceEvery:        15,
		EvidenceEveryMinutes: 60,
		StaleAfter:           2 * time.Hour,
	}
}

// PolicyFromConfig builds a Policy from the monitor section of the config.
func PolicyFromConfig(cfg config.MonitorConfig) Policy {
	return Policy{
		HeartbeatEvery:       cfg.HeartbeatEvery,
		EvidenceEvery:        cfg.EvidenceEvery,
		EvidenceEveryMinutes: cfg.EvidenceEveryMinutes,
		StaleAfter:           cfg.StaleAfterDuration(),
	}
}

// Decide evaluates one completed probe against the task state.
//
// A status change (or the first check) produces a status message and a
// capture, plus an alert when the item became available. Otherwise the
// heartbeat and periodic capture counters apply. Independently, a capture is
// forced once the previous one is older than StaleAfter. At most one capture
// is emitted per tick.
func (p Policy) Decide(task Task, result ProbeResult, now time.Time) Decision {
	next := task
	next.CheckCount = task.CheckCount + 1

	var actions []Action
	evidence := false
	emitEvidence := func(reason EvidenceReason) {
		if evidence {
			return
		}
		actions = append(actions, Action{Kind: ActionCaptureEvidence, Evidence: reason})
		evidence = true
	}

	if result.Errored || result.Signal == StatusUnknown {
		actions = append(actions, Action{Kind: ActionErrorNotice})
	} else {
		first := task.LastStatus == StatusUnknown
		changed := !first && task.LastStatus != result.Signal

		if first || changed {
			actions = append(actions, Action{Kind: ActionStatusMessage, Message: MessageChange})
			emitEvidence(EvidenceOnChange)
			if changed && result.Signal == StatusAvailable {
				actions = append(actions, Action{Kind: ActionAlert})
			}
		} else {
			n := next.CheckCount
			if every(n, p.HeartbeatEvery) {
				actions = append(actions, Action{Kind: ActionStatusMessage, Message: MessageHeartbeat})
			}

			minutes := int(now.Sub(task.StartTime) / time.Minute)
			onHour := p.EvidenceEveryMinutes > 0 && minutes > 0 && minutes%p.EvidenceEveryMinutes == 0
			if every(n, p.EvidenceEvery) || onHour {
				emitEvidence(EvidencePeriodic)
			}
		}

		next.LastStatus = result.Signal
	}

	if task.HasEvidence() && p.StaleAfter > 0 && now.Sub(task.LastEvidence) > p.StaleAfter {
		emitEvidence(EvidenceStale)
	}

	if evidence {
		next.LastEvidence = now
	}

	return Decision{Actions: actions, Next: next}
}

func every(n, period int) bool {
	return period > 0 && n%period == 0
}
