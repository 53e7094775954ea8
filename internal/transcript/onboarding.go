package transcript

import (
	"github.com/gustawsonb-collab/gadugator/internal/domain"
	"github.com/gustawsonb-collab/gadugator/internal/feedback"
)

var onboardingTexts = []string{
	"👋 Hi! I'm **GaduGator** 🐊\nI help you practice English naturally — by chatting, correcting mistakes, and speaking out loud.",
	"You can:\n• ✍️ Write and get corrections\n• 🎤 Speak and I'll understand you\n• 🔊 Listen to my answers (natural voice)",
	"How would you like to start?",
}

// InitTracker persists whether the welcome transcript was already shown.
type InitTracker interface {
	InitState() domain.InitState
	MarkOnboarded()
}

// OnboardingTurns builds the synthetic welcome transcript.
func OnboardingTurns(newID func() string) []domain.Turn {
	turns := make([]domain.Turn, 0, len(onboardingTexts))
	for _, text := range onboardingTexts {
		fb := feedback.Synthesize("")
		turns = append(turns, domain.Turn{
			ID:       newID(),
			Role:     domain.RoleAssistant,
			Text:     text,
			Feedback: &fb,
			Meta:     &domain.TurnMeta{Kind: domain.OriginOnboarding},
		})
	}
	return turns
}

// SeedOnboarding seeds the welcome transcript once per device: only when the
// log is empty and the tracker has never recorded it. It reports whether
// turns were added.
func (l *Log) SeedOnboarding(tracker InitTracker) bool {
	if l.Len() > 0 || tracker.InitState() == domain.Onboarded {
		return false
	}
	l.Seed(OnboardingTurns(l.newID))
	tracker.MarkOnboarded()
	return true
}
