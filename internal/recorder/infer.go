package recorder

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"browsernerd/internal/types"
)

var (
	emailRe  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phoneRe  = regexp.MustCompile(`^\+?[0-9][0-9 ()\-\.]{6,18}$`)
	dateRe   = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}|\d{2}/\d{2}/\d{4})$`)
	urlRe    = regexp.MustCompile(`^https?://`)
	numberRe = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
)

// secretPrefix marks a fill value as a named secret: "secret:api_key".
const secretPrefix = "secret:"

// detectKind classifies one literal against the ordered detector table.
func detectKind(action types.Action, literal string) types.VariableKind {
	switch {
	case emailRe.MatchString(literal):
		return types.VarEmail
	// Dashed ISO dates also fit the permissive phone shape; keep them out.
	case phoneRe.MatchString(literal) && !dateRe.MatchString(literal):
		return types.VarPhone
	case dateRe.MatchString(literal):
		return types.VarDate
	case urlRe.MatchString(literal):
		return types.VarURL
	case action.FieldType == "password":
		return types.VarPassword
	case numberRe.MatchString(literal):
		return types.VarNumber
	case strings.HasPrefix(literal, secretPrefix):
		return types.VarSecret
	}
	return types.VarText
}

var nonWordRe = regexp.MustCompile(`[^a-z0-9]+`)

// snakeCase turns a field label into a legal variable name fragment.
func snakeCase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonWordRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	return s
}

// labelFor derives the naming source for an action's variable: field label,
// placeholder or aria-label of the target, in that preference.
func labelFor(a types.Action) string {
	preferred := map[types.TargetStrategy]int{
		types.ByPlaceholder: 0,
		types.ByAriaLabel:   1,
		types.ByRoleName:    2,
		types.ByText:        3,
	}
	best := ""
	bestRank := len(preferred)
	for _, c := range a.Target.Candidates() {
		if rank, ok := preferred[c.Strategy]; ok && rank < bestRank && c.Value != "" {
			best = c.Value
			bestRank = rank
		}
	}
	return best
}

// nameFor builds the variable name for one literal.
func nameFor(a types.Action, kind types.VariableKind) string {
	if kind == types.VarURL && a.Kind == types.ActionNavigate {
		if u, err := url.Parse(a.URL); err == nil {
			segs := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
			if len(segs) > 0 {
				if n := snakeCase(segs[len(segs)-1]); n != "" {
					return n + "_url"
				}
			}
		}
		return "url"
	}

	if n := snakeCase(labelFor(a)); n != "" {
		// "email field" placeholders collapse to the bare kind word when the
		// label restates it ("email address" stays as-is).
		return n
	}
	return string(kind)
}

// legalize makes a candidate name valid, non-reserved and unique.
func legalize(name string, used map[string]bool) string {
	if name == "" || types.ValidateName(name) != nil {
		name = strings.Trim("field_"+strings.TrimLeft(snakeCase(name), "0123456789_"), "_")
		if name == "" || types.ValidateName(name) != nil {
			name = "field"
		}
	}
	if types.IsReservedName(name) {
		name = name + "_value"
	}
	base := name
	for n := 2; used[name]; n++ {
		name = fmt.Sprintf("%s_%d", base, n)
	}
	used[name] = true
	return name
}

// InferVariables scans recorded actions for literal values, classifies each,
// and rewrites literals into ${name} references. Equal values deduplicate to
// the same variable. Passwords and secrets are marked sensitive and their
// stored values erased.
func InferVariables(actions []types.Action) ([]types.Action, types.VariableSchema) {
	var schema types.VariableSchema
	byValue := make(map[string]string) // literal -> variable name
	used := make(map[string]bool)

	bind := func(a types.Action, literal string) string {
		if name, ok := byValue[literal]; ok {
			return name
		}
		kind := detectKind(a, literal)

		value := literal
		sensitive := false
		candidate := ""
		if kind == types.VarSecret {
			rest := strings.TrimPrefix(literal, secretPrefix)
			candidate = snakeCase(rest)
			sensitive = true
			value = ""
		} else {
			candidate = nameFor(a, kind)
		}
		if kind == types.VarPassword {
			sensitive = true
			value = ""
		}

		name := legalize(candidate, used)
		schema = append(schema, types.Variable{
			Name:      name,
			Kind:      kind,
			Required:  true,
			Sensitive: sensitive,
			Value:     value,
		})
		byValue[literal] = name
		return name
	}

	out := make([]types.Action, len(actions))
	for idx, a := range actions {
		switch a.Kind {
		case types.ActionFill:
			if a.Value != "" && len(types.VariableReferences(a.Value)) == 0 {
				name := bind(a, a.Value)
				a.Value = "${" + name + "}"
				a.Variable = name
			}
		case types.ActionNavigate:
			// Only the first navigation becomes a variable; mid-script
			// navigations tend to be results of the flow itself.
			if idx == 0 && a.URL != "" && len(types.VariableReferences(a.URL)) == 0 {
				name := bind(a, a.URL)
				a.URL = "${" + name + "}"
				a.Variable = name
			}
		case types.ActionSelect:
			if a.Option != "" && len(types.VariableReferences(a.Option)) == 0 &&
				detectKind(a, a.Option) != types.VarText {
				name := bind(a, a.Option)
				a.Option = "${" + name + "}"
				a.Variable = name
			}
		}
		out[idx] = a
	}
	return out, schema
}
