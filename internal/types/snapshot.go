package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Element is one interactive element observed on the page, as collected for
// instruction scoring.
type Element struct {
	Index       int     `json:"index"`
	Tag         string  `json:"tag"`
	Role        string  `json:"role,omitempty"`
	Type        string  `json:"type,omitempty"`
	Text        string  `json:"text,omitempty"`
	Placeholder string  `json:"placeholder,omitempty"`
	Name        string  `json:"name,omitempty"`
	AriaLabel   string  `json:"aria_label,omitempty"`
	ID          string  `json:"id,omitempty"`
	Class       string  `json:"class,omitempty"`
	Title       string  `json:"title,omitempty"`
	Value       string  `json:"value,omitempty"`
	Selector    string  `json:"selector,omitempty"`
	Area        float64 `json:"area"`
}

// Label returns the most human-meaningful identifier of the element, used
// for variable naming and target descriptions.
func (e Element) Label() string {
	for _, s := range []string{e.AriaLabel, e.Placeholder, e.Name, e.Text, e.ID} {
		if s != "" {
			return s
		}
	}
	return e.Tag
}

// Target derives a structured target for the element, with fallbacks ordered
// deterministically by the resolution order.
func (e Element) Target() Target {
	var cands []TargetCandidate
	if e.Role != "" && (e.Text != "" || e.AriaLabel != "") {
		name := e.Text
		if name == "" {
			name = e.AriaLabel
		}
		cands = append(cands, TargetCandidate{Strategy: ByRoleName, Role: e.Role, Value: name})
	}
	if e.AriaLabel != "" {
		cands = append(cands, TargetCandidate{Strategy: ByAriaLabel, Value: e.AriaLabel})
	}
	if e.Placeholder != "" {
		cands = append(cands, TargetCandidate{Strategy: ByPlaceholder, Value: e.Placeholder})
	}
	if e.Text != "" {
		cands = append(cands, TargetCandidate{Strategy: ByText, Value: e.Text})
	}
	if e.Selector != "" {
		cands = append(cands, TargetCandidate{Strategy: BySelector, Value: e.Selector})
	}
	cands = append(cands, TargetCandidate{Strategy: ByIndex, Index: e.Index, Value: fmt.Sprintf("#%d", e.Index)})

	t := Target{Primary: cands[0]}
	if len(cands) > 1 {
		t.Fallbacks = cands[1:]
	}
	return t
}

// PageSnapshot is the interpreter's view of the current page.
type PageSnapshot struct {
	URL      string    `json:"url"`
	Title    string    `json:"title,omitempty"`
	Elements []Element `json:"elements"`
}

// ContentHash returns a stable digest of the snapshot, used as the tier-3
// plan cache key.
func (s *PageSnapshot) ContentHash() string {
	var b strings.Builder
	b.WriteString(s.URL)
	for _, e := range s.Elements {
		fmt.Fprintf(&b, "|%s;%s;%s;%s;%s;%s", e.Tag, e.Role, e.Text, e.Placeholder, e.Name, e.AriaLabel)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

// Frame is one captured screenshot.
type Frame struct {
	ID       uint64 `json:"frame_id"`
	Data     []byte `json:"-"`
	URL      string `json:"url"`
	Captured int64  `json:"captured_ms"`
}
