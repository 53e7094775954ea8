package domain

import "encoding/json"

// Feedback is the structured correction record attached to an assistant turn.
type Feedback struct {
	Corrected    string   `json:"corrected"`
	Tips         []string `json:"tips"`
	Alternatives []string `json:"alternatives"`
}

// Meaningful reports whether at least one field carries content. An all-empty
// record is equivalent to absent feedback.
func (f Feedback) Meaningful() bool {
	return f.Corrected != "" || len(f.Tips) > 0 || len(f.Alternatives) > 0
}

// Clone returns a copy that shares no slices with f.
func (f Feedback) Clone() Feedback {
	out := Feedback{Corrected: f.Corrected}
	out.Tips = append(make([]string, 0, len(f.Tips)), f.Tips...)
	out.Alternatives = append(make([]string, 0, len(f.Alternatives)), f.Alternatives...)
	return out
}

// MarshalJSON encodes absent tips and alternatives as empty lists.
func (f Feedback) MarshalJSON() ([]byte, error) {
	type wire Feedback
	w := wire(f)
	if w.Tips == nil {
		w.Tips = []string{}
	}
	if w.Alternatives == nil {
		w.Alternatives = []string{}
	}
	return json.Marshal(w)
}
