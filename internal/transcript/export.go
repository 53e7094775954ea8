package transcript

import (
	"strings"
)

// ExportFilename is the suggested download name of ExportText.
const ExportFilename = "gadugator-chat.txt"

// ExportText renders the transcript as plain text, one "Speaker: text" block
// per turn separated by blank lines.
func (l *Log) ExportText() string {
	turns := l.Turns()
	blocks := make([]string, 0, len(turns))
	for _, t := range turns {
		blocks = append(blocks, t.SpeakerLabel()+": "+t.Text)
	}
	return strings.Join(blocks, "\n\n")
}
