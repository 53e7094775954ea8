// Package feedback turns untrusted correction payloads into domain.Feedback
// and synthesizes a minimal record when none is available.
package feedback

import (
	"log/slog"

	"github.com/gustawsonb-collab/gadugator/internal/domain"
	"github.com/tidwall/gjson"
)

// Normalize coerces an arbitrary decoded value into feedback. It returns nil
// for anything that does not yield at least one meaningful field and never
// panics.
func Normalize(raw gjson.Result) (fb *domain.Feedback) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("Feedback normalization recovered", "panic", r)
			fb = nil
		}
	}()

	if falsy(raw) {
		return nil
	}
	// Accept a single wrapping level: {"feedback": {...}}.
	if raw.IsObject() {
		if inner := raw.Get("feedback"); inner.Exists() {
			raw = inner
			if falsy(raw) {
				return nil
			}
		}
	}
	if !raw.IsObject() {
		return nil
	}

	out := domain.Feedback{
		Corrected:    stringField(raw.Get("corrected")),
		Tips:         stringElems(raw.Get("tips")),
		Alternatives: stringElems(raw.Get("alternatives")),
	}
	if !out.Meaningful() {
		return nil
	}
	return &out
}

// NormalizeJSON normalizes a raw JSON document. Invalid JSON yields nil.
func NormalizeJSON(data []byte) *domain.Feedback {
	if !gjson.ValidBytes(data) {
		return nil
	}
	return Normalize(gjson.ParseBytes(data))
}

// Meaningful reports whether fb is present and has at least one non-empty field.
func Meaningful(fb *domain.Feedback) bool {
	return fb != nil && fb.Meaningful()
}

func falsy(v gjson.Result) bool {
	switch v.Type {
	case gjson.Null, gjson.False:
		return true
	case gjson.Number:
		return v.Num == 0
	case gjson.String:
		return v.Str == ""
	}
	return !v.Exists()
}

func stringField(v gjson.Result) string {
	if v.Type != gjson.String {
		return ""
	}
	return v.Str
}

func stringElems(v gjson.Result) []string {
	out := []string{}
	if !v.IsArray() {
		return out
	}
	for _, elem := range v.Array() {
		if elem.Type == gjson.String {
			out = append(out, elem.Str)
		}
	}
	return out
}
