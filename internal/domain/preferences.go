package domain

// Level is a CEFR proficiency level.
type Level string

// Supported levels.
const (
	LevelA1 Level = "A1"
	LevelA2 Level = "A2"
	LevelB1 Level = "B1"
	LevelB2 Level = "B2"
	LevelC1 Level = "C1"
)

// Valid reports whether l is one of the supported levels.
func (l Level) Valid() bool {
	switch l {
	case LevelA1, LevelA2, LevelB1, LevelB2, LevelC1:
		return true
	}
	return false
}

// Style is the conversational tone requested by the learner.
type Style string

// Supported styles.
const (
	StyleFormal   Style = "formal"
	StyleCasual   Style = "casual"
	StyleHumorous Style = "humorous"
)

// Valid reports whether s is one of the supported styles.
func (s Style) Valid() bool {
	switch s {
	case StyleFormal, StyleCasual, StyleHumorous:
		return true
	}
	return false
}

// Mode selects the tutor persona instructions.
type Mode string

// Supported modes.
const (
	ModeTutor Mode = "tutor"
	ModeChat  Mode = "chat"
)

// ParseMode returns the mode named by s, defaulting to tutor.
func ParseMode(s string) Mode {
	if Mode(s) == ModeChat {
		return ModeChat
	}
	return ModeTutor
}

// CustomTopic is the sentinel topic value the setup dialog uses when the
// learner types their own topic.
const CustomTopic = "custom"

// SessionPreferences parameterize the system prompt.
type SessionPreferences struct {
	Level            Level  `json:"level"`
	Topic            string `json:"topic"`
	Style            Style  `json:"style"`
	MotivationalMode bool   `json:"motivationalMode"`
}

// DefaultSessionPreferences mirrors the initial state of the setup dialog.
func DefaultSessionPreferences() SessionPreferences {
	return SessionPreferences{
		Level:            LevelA1,
		Topic:            "travel",
		Style:            StyleFormal,
		MotivationalMode: true,
	}
}
