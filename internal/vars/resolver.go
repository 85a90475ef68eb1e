// Package vars substitutes script variables into action parameters.
package vars

import (
	"net/url"
	"regexp"
	"sort"

	"browsernerd/internal/types"
)

// tokenRe matches ${NAME}, {{NAME}} and bare {NAME} references.
var tokenRe = regexp.MustCompile(`\$\{([A-Za-z][A-Za-z0-9_-]*)\}|\{\{([A-Za-z][A-Za-z0-9_-]*)\}\}|\{([A-Za-z][A-Za-z0-9_-]*)\}`)

// Resolver substitutes a fixed name→value map. The map is read-only for the
// lifetime of an execution.
type Resolver struct {
	values map[string]string
}

// New builds a resolver over the supplied values, filling gaps from schema
// defaults. A non-sensitive recorded literal counts as a default: replaying a
// recording with no overrides reuses what was typed, while sensitive values
// are never stored and must be supplied.
func New(supplied map[string]string, schema types.VariableSchema) *Resolver {
	values := make(map[string]string, len(supplied))
	for k, v := range supplied {
		values[k] = v
	}
	for _, v := range schema {
		if _, ok := values[v.Name]; ok {
			continue
		}
		switch {
		case v.Default != "":
			values[v.Name] = v.Default
		case !v.Sensitive && v.Value != "":
			values[v.Name] = v.Value
		}
	}
	return &Resolver{values: values}
}

// Check verifies that every variable referenced by the script is available.
// Names an extract step produces are filled at run time and are not required
// up front. Returns a MissingVariable error naming every absent variable, so
// an execution fails before any step runs.
func (r *Resolver) Check(script *types.Script) error {
	produced := make(map[string]struct{})
	for _, a := range script.Actions {
		if a.Kind == types.ActionExtract && a.Variable != "" {
			produced[a.Variable] = struct{}{}
		}
	}
	var missing []string
	for _, name := range script.ReferencedVariables() {
		if _, ok := produced[name]; ok {
			continue
		}
		if _, ok := r.values[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return types.NewError(types.KindMissingVariable, "missing variables: %v", missing).
		WithContext("missing", missing)
}

// Resolve substitutes into a plain value field. Unknown names fail with
// MissingVariable.
func (r *Resolver) Resolve(s string) (string, error) {
	return r.substitute(s, false)
}

// ResolveURL substitutes into a URL field; values spliced into a larger URL
// are query-escaped. A reference standing for the whole field (a recorded
// login_url, say) is inserted raw.
func (r *Resolver) ResolveURL(s string) (string, error) {
	if m := tokenRe.FindString(s); m == s {
		return r.substitute(s, false)
	}
	return r.substitute(s, true)
}

func (r *Resolver) substitute(s string, encode bool) (string, error) {
	if s == "" {
		return s, nil
	}
	var missing []string
	out := tokenRe.ReplaceAllStringFunc(s, func(tok string) string {
		m := tokenRe.FindStringSubmatch(tok)
		name := m[1]
		if name == "" {
			name = m[2]
		}
		if name == "" {
			name = m[3]
		}
		v, ok := r.values[name]
		if !ok {
			missing = append(missing, name)
			return tok
		}
		if encode {
			return url.QueryEscape(v)
		}
		return v
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return s, types.NewError(types.KindMissingVariable, "missing variables: %v", missing).
			WithContext("missing", missing)
	}
	return out, nil
}

// Apply returns a copy of the action with all variable references resolved.
func (r *Resolver) Apply(a types.Action) (types.Action, error) {
	var err error
	if a.URL != "" {
		if a.URL, err = r.ResolveURL(a.URL); err != nil {
			return a, err
		}
	}
	if a.Value != "" {
		if a.Value, err = r.Resolve(a.Value); err != nil {
			return a, err
		}
	}
	if a.Option != "" {
		if a.Option, err = r.Resolve(a.Option); err != nil {
			return a, err
		}
	}
	return a, nil
}
