package monitor

import (
	"fmt"
	"time"
)

// StatusLabel renders s for chat messages.
func StatusLabel(s Status) string {
	switch s {
	case StatusAvailable:
		return "available ✅"
	case StatusUnavailable:
		return "not available ❌"
	default:
		return "unknown ❔"
	}
}

func itemLabel(title string) string {
	if title == "" {
		return "The item"
	}
	return fmt.Sprintf("%q", title)
}

func changeMessage(next Task, result ProbeResult) string {
	return fmt.Sprintf("Status update: %s is %s\n%s", itemLabel(result.Title), StatusLabel(next.LastStatus), next.TargetURL)
}

func heartbeatMessage(next Task) string {
	return fmt.Sprintf("Monitoring active: still %s - Check #%d", StatusLabel(next.LastStatus), next.CheckCount)
}

func alertMessage(next Task) string {
	return fmt.Sprintf("🚨 ALERT 🚨 The item is now AVAILABLE. Check it quickly!\n%s", next.TargetURL)
}

func errorNotice() string {
	return "Error while checking availability. Monitoring continues..."
}

func captureFailedNotice() string {
	return "Could not capture a screenshot of the page."
}

// evidencePreface is the text sent ahead of a routine or forced capture.
func evidencePreface(reason EvidenceReason, s Status) string {
	switch reason {
	case EvidencePeriodic:
		return fmt.Sprintf("Periodic update - still %s", StatusLabel(s))
	case EvidenceStale:
		return fmt.Sprintf("⏰ Safety update: checking the page (currently %s)...", StatusLabel(s))
	default:
		return ""
	}
}

func evidenceCaption(reason EvidenceReason, s Status) string {
	base := "Status: " + StatusLabel(s)
	switch reason {
	case EvidencePeriodic:
		return base + " - periodic update"
	case EvidenceStale:
		return base + " - safety update (no recent screenshots)"
	default:
		return base
	}
}

// FormatDuration renders d as "1h 5m", "3m 20s" or "12s".
func FormatDuration(d time.Duration) string {
	seconds := int(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds%60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
