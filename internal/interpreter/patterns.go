package interpreter

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"browsernerd/internal/types"
)

// intent is the output of the direct pattern tier: either a complete action
// or an action kind plus a target phrase still needing page grounding.
type intent struct {
	action *types.Action
	// kind + targetPhrase set when the element must be grounded on the page.
	kind         types.ActionKind
	targetPhrase string
	value        string
}

var (
	navigateRe = regexp.MustCompile(`^(?:go to|navigate to|open|visit)\s+(\S+)$`)
	clickRe    = regexp.MustCompile(`^click\s+(?:on\s+)?(.+)$`)
	fillRe     = regexp.MustCompile(`^(?:type|enter|fill)\s+"(.+)"\s+(?:in|into)\s+(.+)$`)
	searchRe   = regexp.MustCompile(`^search for\s+(.+)$`)
	waitRe     = regexp.MustCompile(`^wait\s+(\d+)\s*(?:seconds?|s)?$`)
	scrollRe   = regexp.MustCompile(`^scroll\s+(up|down|to\s+.+)$`)
	selectRe   = regexp.MustCompile(`^(?:select|choose)\s+"(.+)"\s+(?:in|into|from)\s+(.+)$`)
)

// normalize lowercases and collapses whitespace while preserving the case of
// double-quoted spans.
func normalize(s string) string {
	var out strings.Builder
	fields := strings.Fields(strings.TrimSpace(s))
	joined := strings.Join(fields, " ")

	inQuote := false
	for _, r := range joined {
		if r == '"' {
			inQuote = !inQuote
			out.WriteRune(r)
			continue
		}
		if inQuote {
			out.WriteRune(r)
		} else {
			out.WriteRune([]rune(strings.ToLower(string(r)))[0])
		}
	}
	return out.String()
}

// ensureScheme defaults scheme-less URLs to https.
func ensureScheme(url string) string {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return url
	}
	return "https://" + url
}

// parse runs the direct pattern tier. The boolean reports whether any
// pattern matched.
func parse(instruction string) (intent, bool) {
	norm := normalize(instruction)

	if m := navigateRe.FindStringSubmatch(norm); m != nil {
		return intent{action: &types.Action{
			Kind:        types.ActionNavigate,
			URL:         ensureScheme(m[1]),
			Instruction: instruction,
		}}, true
	}
	if m := waitRe.FindStringSubmatch(norm); m != nil {
		secs, _ := strconv.Atoi(m[1])
		return intent{action: &types.Action{
			Kind:         types.ActionWait,
			WaitDuration: time.Duration(secs) * time.Second,
			Instruction:  instruction,
		}}, true
	}
	if m := scrollRe.FindStringSubmatch(norm); m != nil {
		arg := m[1]
		if arg == "up" || arg == "down" {
			return intent{action: &types.Action{
				Kind:        types.ActionScroll,
				Direction:   arg,
				Instruction: instruction,
			}}, true
		}
		phrase := strings.TrimSpace(strings.TrimPrefix(arg, "to"))
		return intent{kind: types.ActionScroll, targetPhrase: phrase}, true
	}
	if m := fillRe.FindStringSubmatch(norm); m != nil {
		return intent{kind: types.ActionFill, value: m[1], targetPhrase: m[2]}, true
	}
	if m := selectRe.FindStringSubmatch(norm); m != nil {
		return intent{kind: types.ActionSelect, value: m[1], targetPhrase: m[2]}, true
	}
	if m := searchRe.FindStringSubmatch(norm); m != nil {
		return intent{kind: types.ActionFill, value: strings.Trim(m[1], `"`), targetPhrase: "search"}, true
	}
	if m := clickRe.FindStringSubmatch(norm); m != nil {
		return intent{kind: types.ActionClick, targetPhrase: strings.Trim(m[1], `"`)}, true
	}
	return intent{}, false
}
