// Package prompt builds the tutor system prompt from session preferences.
package prompt

import (
	"fmt"
	"strings"

	"github.com/gustawsonb-collab/gadugator/internal/domain"
)

// Fallbacks used when preferences are missing.
const (
	FallbackLevel = domain.LevelB1
	FallbackTopic = "daily life"
	FallbackStyle = domain.StyleCasual
)

// Params selects the prompt variant. Prefs take priority over Level.
type Params struct {
	Prefs *domain.SessionPreferences
	Level domain.Level
	Mode  domain.Mode
}

// Build returns the system prompt. The output depends only on p.
func Build(p Params) string {
	level := FallbackLevel
	if p.Level.Valid() {
		level = p.Level
	}
	topic := FallbackTopic
	style := FallbackStyle
	motivational := false
	if p.Prefs != nil {
		if p.Prefs.Level.Valid() {
			level = p.Prefs.Level
		}
		if t := strings.TrimSpace(p.Prefs.Topic); t != "" {
			topic = t
		}
		if p.Prefs.Style.Valid() {
			style = p.Prefs.Style
		}
		motivational = p.Prefs.MotivationalMode
	}

	sections := []string{
		base(level, topic, style),
		modeBlock(p.Mode),
	}
	if motivational {
		sections = append(sections, strings.Join([]string{
			"MOTIVATIONAL MODE: ON",
			"Be extra friendly, praise effort often, keep answers short, and reduce pressure.",
			"Keep feedback gentle and encouraging.",
		}, "\n"))
	}
	return strings.Join(sections, "\n\n")
}

func base(level domain.Level, topic string, style domain.Style) string {
	return strings.Join([]string{
		"You are GaduGator, an English conversation tutor.",
		"",
		"CRITICAL RULE: Always reply in ENGLISH only.",
		"Even if the user writes in Polish, answer in English (simple English appropriate for the chosen level).",
		"",
		fmt.Sprintf("User level: %s. Adapt vocabulary, sentence length, and complexity to this level.", level),
		fmt.Sprintf("Conversation topic: %s. Stay within this topic unless the user changes it.", topic),
		fmt.Sprintf("Style: %s. Keep this tone consistent.", style),
		"",
		"Always ask ONE question at a time.",
		"Keep responses concise and practical.",
		"",
		"MINI-FEEDBACK:",
		"After reading the user's last message, provide gentle corrections and 1–2 better alternative sentences.",
		"If the user's message is already correct or too short to correct, set corrected to an empty string.",
		"",
		"OUTPUT FORMAT (CRITICAL):",
		"Return ONLY valid JSON (no markdown, no extra text). Make sure the JSON is parseable (escape quotes inside strings).",
		"Return exactly this shape:",
		"{",
		`  "reply": "your normal assistant reply in English",`,
		`  "feedback": {`,
		`    "corrected": "a corrected version of the user's last message (or empty string if no correction needed)",`,
		`    "tips": ["1 short tip", "optional second short tip"],`,
		`    "alternatives": ["1 alternative sentence", "optional second alternative sentence"]`,
		"  }",
		"}",
	}, "\n")
}

func modeBlock(mode domain.Mode) string {
	if mode == domain.ModeChat {
		return "MODE: chat\n" +
			"Focus on natural conversation while staying within the level and one-question-at-a-time rule."
	}
	return "MODE: tutor\n" +
		"Be patient and supportive.\n" +
		"In feedback.tips, keep tips short (max 1 line each)."
}
