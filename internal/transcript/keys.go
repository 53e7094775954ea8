// Package transcript owns the ordered, persisted conversation log of one
// device: hydration with legacy migration, feedback reconciliation, live
// appends and reset.
package transcript

import (
	"github.com/tidwall/gjson"
)

// Storage keys of the transcript, newest first.
const (
	KeyCurrent = "gadugator.chat.v3"
	KeyV2      = "gadugator.chat.v2"
	KeyV1      = "gadugator.chat.v1"
)

// MaxPersisted is the number of most recent turns written on every persist.
const MaxPersisted = 80

// rawTurn is a loosely decoded stored entry before reconciliation.
type rawTurn struct {
	id           string
	role         string
	text         string
	feedback     gjson.Result
	feedbackOpen *bool
	origin       string
}

// decoder turns a stored blob into raw entries. ok is false when the blob is
// not a JSON array.
type decoder func(blob gjson.Result) (entries []rawTurn, ok bool)

type source struct {
	key    string
	decode decoder
}

// sources is the migration chain, tried in priority order.
var sources = []source{
	{key: KeyCurrent, decode: decodeEntries("text")},
	{key: KeyV2, decode: decodeEntries("text")},
	{key: KeyV1, decode: decodeEntries("text", "content")},
}

func decodeEntries(textFields ...string) decoder {
	return func(blob gjson.Result) ([]rawTurn, bool) {
		if !blob.IsArray() {
			return nil, false
		}
		var out []rawTurn
		blob.ForEach(func(_, item gjson.Result) bool {
			if !item.IsObject() {
				return true
			}
			text, found := firstString(item, textFields)
			if !found {
				return true
			}
			entry := rawTurn{
				text:     text,
				role:     item.Get("role").String(),
				feedback: item.Get("feedback"),
				origin:   item.Get("meta.kind").String(),
			}
			if id := item.Get("id"); id.Type == gjson.String {
				entry.id = id.Str
			}
			if open := item.Get("feedbackOpen"); open.IsBool() {
				v := open.Bool()
				entry.feedbackOpen = &v
			}
			out = append(out, entry)
			return true
		})
		return out, true
	}
}

func firstString(item gjson.Result, fields []string) (string, bool) {
	for _, f := range fields {
		if v := item.Get(f); v.Type == gjson.String {
			return v.Str, true
		}
	}
	return "", false
}
