package usecase

import (
	"fmt"
	"time"
)

const (
	// ReadyLabel is shown for quotas whose reset time has passed.
	ReadyLabel = "Ready"
	// UnknownResetLabel is shown when no reset time was reported.
	UnknownResetLabel = "Unknown"
)

// FormatResetTime renders a reset countdown: "Ready" when d <= 0, whole minutes
// under an hour ("42m"), otherwise hours and minutes ("3h 05m"), followed by the
// reset moment in loc ("(03/14 17:30)"). Minutes are truncated.
func FormatResetTime(d time.Duration, resetAt time.Time, loc *time.Location) string {
	if d <= 0 {
		return ReadyLabel
	}
	if loc == nil {
		loc = time.Local
	}

	total := int(d / time.Minute)
	var countdown string
	if total < 60 {
		countdown = fmt.Sprintf("%dm", total)
	} else {
		countdown = fmt.Sprintf("%dh %02dm", total/60, total%60)
	}

	if resetAt.IsZero() {
		return countdown
	}
	return fmt.Sprintf("%s (%s)", countdown, resetAt.In(loc).Format("01/02 15:04"))
}
