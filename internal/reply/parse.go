// Package reply extracts the reply text and feedback from raw completion output.
package reply

import (
	"log/slog"
	"strings"

	"github.com/gustawsonb-collab/gadugator/internal/domain"
	"github.com/gustawsonb-collab/gadugator/internal/feedback"
	"github.com/tidwall/gjson"
)

// EmptyReplyPlaceholder replaces a blank assistant reply.
const EmptyReplyPlaceholder = "(empty reply)"

// Result is the outcome of Parse.
type Result struct {
	Reply    string
	Feedback *domain.Feedback
	// Fallback is set when no usable JSON payload was found and Reply holds
	// the raw text.
	Fallback bool
}

// Parse extracts {reply, feedback} from raw completion text, tolerating prose
// around the JSON payload. It never panics.
func Parse(raw string) (res Result) {
	trimmed := strings.TrimSpace(raw)
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("Reply parse recovered", "panic", r)
			res = Result{Reply: trimmed, Fallback: true}
		}
	}()

	if obj, ok := decodeObject(trimmed); ok {
		return fromObject(obj, trimmed)
	}

	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start >= 0 && end > start {
		if obj, ok := decodeObject(trimmed[start : end+1]); ok {
			return fromObject(obj, trimmed)
		}
	}

	return Result{Reply: trimmed, Fallback: true}
}

// Finalize applies the assistant-turn policy: blank replies become the
// placeholder and absent feedback is synthesized from lastUserText.
func (r Result) Finalize(lastUserText string) (string, domain.Feedback) {
	text := r.Reply
	if strings.TrimSpace(text) == "" {
		text = EmptyReplyPlaceholder
	}
	return text, *feedback.OrSynthesize(r.Feedback, lastUserText)
}

func decodeObject(s string) (gjson.Result, bool) {
	if s == "" || !gjson.Valid(s) {
		return gjson.Result{}, false
	}
	v := gjson.Parse(s)
	return v, v.IsObject()
}

func fromObject(obj gjson.Result, trimmed string) Result {
	var text string
	if r := lastField(obj, "reply"); r.Type == gjson.String {
		text = r.Str
	}
	fb := feedback.Normalize(lastField(obj, "feedback"))
	if text == "" && fb == nil {
		return Result{Reply: trimmed, Fallback: true}
	}
	return Result{Reply: text, Feedback: fb}
}

// lastField returns the last member named key. Duplicate keys resolve to the
// final occurrence, whereas gjson.Get stops at the first.
func lastField(obj gjson.Result, key string) gjson.Result {
	var found gjson.Result
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.Str == key {
			found = v
		}
		return true
	})
	return found
}
