package timer

import "time"

// NewWithUnit returns a timer whose second lasts unit.
func NewWithUnit(hub Hub, unit time.Duration) *Timer {
	return newTimer(hub, unit)
}
