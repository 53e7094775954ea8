package domain

// DayLayout is the calendar-day format of UsageRecord.Day.
const DayLayout = "2006-01-02"

// UsageRecord is the day-bucketed message counter of one device.
type UsageRecord struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// InitState records whether the welcome transcript was already shown.
type InitState int

const (
	// NotStarted means the onboarding transcript has never been seeded.
	NotStarted InitState = iota
	// Onboarded means the onboarding transcript was seeded once.
	Onboarded
)
