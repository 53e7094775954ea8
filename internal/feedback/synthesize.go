package feedback

import (
	"strings"

	"github.com/gustawsonb-collab/gadugator/internal/domain"
)

// Fixed strings of the synthesized feedback.
const (
	FollowUpTip          = "Tip: add one short follow-up question to keep the conversation going."
	ShorterAlternative   = "Alternative: try a shorter sentence + a follow-up question."
	EmptyTextAlternative = "Alternative: try one short sentence + one question."
)

// Synthesize builds the generic feedback shown when the service supplied none.
// Its output depends only on the trimmed lastUserText.
func Synthesize(lastUserText string) domain.Feedback {
	text := strings.TrimSpace(lastUserText)
	fb := domain.Feedback{
		Corrected: "",
		Tips:      []string{FollowUpTip},
	}
	if text == "" {
		fb.Alternatives = []string{EmptyTextAlternative}
		return fb
	}
	fb.Alternatives = []string{
		`Alternative: "` + text + `"`,
		ShorterAlternative,
	}
	return fb
}

// OrSynthesize returns fb when it is meaningful, otherwise the synthesized
// record for lastUserText.
func OrSynthesize(fb *domain.Feedback, lastUserText string) *domain.Feedback {
	if Meaningful(fb) {
		return fb
	}
	out := Synthesize(lastUserText)
	return &out
}
