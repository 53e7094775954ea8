package domain

// Theme is the UI color scheme.
type Theme string

// Supported themes.
const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Voice is a speech-synthesis voice identifier.
type Voice string

// DefaultVoice is used when no valid voice was chosen.
const DefaultVoice Voice = "marin"

// Voices lists the supported synthesis voices in display order.
var Voices = []Voice{
	"marin", "cedar", "coral", "alloy", "nova", "shimmer", "onyx",
	"sage", "echo", "fable", "ash", "ballad", "verse",
}

// Valid reports whether v is a supported voice.
func (v Voice) Valid() bool {
	for _, known := range Voices {
		if v == known {
			return true
		}
	}
	return false
}

// Settings are the per-device UI settings.
type Settings struct {
	Theme        Theme `json:"theme"`
	VoiceEnabled bool  `json:"voiceEnabled"`
	Voice        Voice `json:"voice"`
}
