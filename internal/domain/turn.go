// Package domain contains core domain types for the GaduGator conversation tutor.
package domain

import "strings"

// Role identifies the author of a turn.
type Role string

const (
	// RoleUser marks a learner-authored turn.
	RoleUser Role = "user"
	// RoleAssistant marks a tutor-authored turn.
	RoleAssistant Role = "assistant"
)

// ParseRole coerces an arbitrary stored role. Only the literal "user" is a user
// turn; anything else (including corrupt values) is treated as assistant.
func ParseRole(s string) Role {
	if s == string(RoleUser) {
		return RoleUser
	}
	return RoleAssistant
}

// OriginKind tags turns that were not produced by a real exchange.
type OriginKind string

const (
	// OriginNone is a regular conversational turn.
	OriginNone OriginKind = ""
	// OriginOnboarding marks the synthetic welcome transcript.
	OriginOnboarding OriginKind = "onboarding"
	// OriginNotice marks locally generated assistant-style notices (errors).
	OriginNotice OriginKind = "notice"
)

// TurnMeta is the persisted meta envelope of a turn.
type TurnMeta struct {
	Kind OriginKind `json:"kind,omitempty"`
}

// Turn is one message in the conversation.
//
// Invariant: a user turn never carries feedback.
type Turn struct {
	ID              string    `json:"id"`
	Role            Role      `json:"role"`
	Text            string    `json:"text"`
	Feedback        *Feedback `json:"feedback"`
	FeedbackVisible bool      `json:"feedbackOpen"`
	Meta            *TurnMeta `json:"meta,omitempty"`
}

// Origin returns the origin tag of the turn.
func (t Turn) Origin() OriginKind {
	if t.Meta == nil {
		return OriginNone
	}
	return t.Meta.Kind
}

// IsSynthetic reports whether the turn was generated locally rather than by
// a real exchange with the completion service.
func (t Turn) IsSynthetic() bool {
	return t.Origin() != OriginNone
}

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	out := t
	if t.Feedback != nil {
		fb := t.Feedback.Clone()
		out.Feedback = &fb
	}
	if t.Meta != nil {
		m := *t.Meta
		out.Meta = &m
	}
	return out
}

// SpeakerLabel returns the label used in plain-text exports.
func (t Turn) SpeakerLabel() string {
	if t.Role == RoleUser {
		return "User"
	}
	return "GaduGator"
}

// HasText reports whether the turn text is non-blank.
func (t Turn) HasText() bool {
	return strings.TrimSpace(t.Text) != ""
}
