package types

import (
	"regexp"
	"time"
)

// VariableKind classifies a script variable.
type VariableKind string

const (
	VarText     VariableKind = "text"
	VarEmail    VariableKind = "email"
	VarPhone    VariableKind = "phone"
	VarDate     VariableKind = "date"
	VarURL      VariableKind = "url"
	VarNumber   VariableKind = "number"
	VarPassword VariableKind = "password"
	VarSecret   VariableKind = "secret"
	VarFile     VariableKind = "file"
)

var variableNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// reservedVariableNames may never be used as variable names.
var reservedVariableNames = map[string]struct{}{
	"id": {}, "name": {}, "type": {}, "value": {}, "system": {}, "admin": {},
}

// ValidVariableKinds is the closed set of accepted kinds.
var ValidVariableKinds = map[VariableKind]struct{}{
	VarText: {}, VarEmail: {}, VarPhone: {}, VarDate: {}, VarURL: {},
	VarNumber: {}, VarPassword: {}, VarSecret: {}, VarFile: {},
}

// Variable is one entry of a script's variable schema.
type Variable struct {
	Name      string       `json:"name"`
	Kind      VariableKind `json:"kind"`
	Pattern   string       `json:"pattern,omitempty"`
	Required  bool         `json:"required"`
	Sensitive bool         `json:"sensitive"`
	Default   string       `json:"default,omitempty"`
	// Value is the recorded literal. Sensitive variables never carry one in
	// persisted or exported scripts; they hold only a placeholder.
	Value string `json:"value,omitempty"`
}

// ValidateName checks legality of a candidate variable name.
func ValidateName(name string) error {
	if !variableNameRe.MatchString(name) {
		return NewError(KindInvalidName, "invalid variable name %q", name)
	}
	if _, reserved := reservedVariableNames[name]; reserved {
		return NewError(KindReservedName, "variable name %q is reserved", name)
	}
	return nil
}

// IsReservedName reports whether name is in the reserved set.
func IsReservedName(name string) bool {
	_, ok := reservedVariableNames[name]
	return ok
}

// VariableSchema is the ordered variable list of a script.
type VariableSchema []Variable

// Validate checks name legality, kind membership, pattern compilability and
// name uniqueness.
func (s VariableSchema) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for _, v := range s {
		if err := ValidateName(v.Name); err != nil {
			return err
		}
		if _, dup := seen[v.Name]; dup {
			return NewError(KindSchemaMismatch, "duplicate variable %q", v.Name)
		}
		seen[v.Name] = struct{}{}
		if _, ok := ValidVariableKinds[v.Kind]; !ok {
			return NewError(KindSchemaMismatch, "variable %q has unknown kind %q", v.Name, v.Kind)
		}
		if v.Pattern != "" {
			if _, err := regexp.Compile(v.Pattern); err != nil {
				return WrapError(KindSchemaMismatch, err, "variable %q has an invalid pattern", v.Name)
			}
		}
	}
	return nil
}

// Lookup returns the schema entry for name.
func (s VariableSchema) Lookup(name string) (Variable, bool) {
	for _, v := range s {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// ScriptOrigin records how a script came to exist.
type ScriptOrigin string

const (
	OriginRecorded ScriptOrigin = "recorded"
	OriginImported ScriptOrigin = "imported"
	OriginAuthored ScriptOrigin = "authored"
)

// Script is an ordered, non-empty sequence of actions plus its variable
// schema. Step indices are 1-based and contiguous.
type Script struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Origin      ScriptOrigin   `json:"origin"`
	InitialURL  string         `json:"initial_url"`
	Actions     []Action       `json:"actions"`
	Variables   VariableSchema `json:"variables,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	LastRunAt   *time.Time     `json:"last_run_at,omitempty"`
}

// StepCount returns the number of actions.
func (s *Script) StepCount() int { return len(s.Actions) }

// Validate checks the script invariants: non-empty action list, valid
// actions, valid schema, every referenced variable declared, no raw values on
// sensitive variables.
func (s *Script) Validate() error {
	if s.Name == "" {
		return NewError(KindSchemaMismatch, "script has no name")
	}
	if len(s.Actions) == 0 {
		return NewError(KindSchemaMismatch, "script %q has no actions", s.Name)
	}
	for i, a := range s.Actions {
		if err := a.Validate(); err != nil {
			return WrapError(KindSchemaMismatch, err, "step %d", i+1)
		}
	}
	if err := s.Variables.Validate(); err != nil {
		return err
	}
	for _, name := range s.ReferencedVariables() {
		if _, ok := s.Variables.Lookup(name); !ok {
			return NewError(KindSchemaMismatch, "variable %q referenced but not declared", name)
		}
	}
	for _, v := range s.Variables {
		if v.Sensitive && v.Value != "" {
			return NewError(KindSchemaMismatch, "sensitive variable %q carries a stored value", v.Name)
		}
	}
	return nil
}

// ReferencedVariables returns the distinct variable names referenced by any
// action, in first-reference order.
func (s *Script) ReferencedVariables() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(names []string) {
		for _, n := range names {
			if _, ok := seen[n]; !ok {
				seen[n] = struct{}{}
				out = append(out, n)
			}
		}
	}
	for _, a := range s.Actions {
		add(VariableReferences(a.URL))
		add(VariableReferences(a.Value))
		add(VariableReferences(a.Option))
	}
	return out
}

// ScriptSummary is the listing view of a stored script.
type ScriptSummary struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	Origin        ScriptOrigin `json:"origin"`
	StepCount     int          `json:"step_count"`
	VariableCount int          `json:"variable_count"`
	CreatedAt     time.Time    `json:"created_at"`
	LastRunAt     *time.Time   `json:"last_run_at,omitempty"`
}

// Summary builds the listing view.
func (s *Script) Summary() ScriptSummary {
	return ScriptSummary{
		ID:            s.ID,
		Name:          s.Name,
		Description:   s.Description,
		Origin:        s.Origin,
		StepCount:     s.StepCount(),
		VariableCount: len(s.Variables),
		CreatedAt:     s.CreatedAt,
		LastRunAt:     s.LastRunAt,
	}
}

var variableRefRe = regexp.MustCompile(`\$\{([A-Za-z][A-Za-z0-9_-]*)\}|\{\{([A-Za-z][A-Za-z0-9_-]*)\}\}`)

// VariableReferences extracts ${NAME} and {{NAME}} references from a string.
// Bare {NAME} is accepted at substitution time but is too noisy to treat as a
// declaration-requiring reference.
func VariableReferences(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, m := range variableRefRe.FindAllStringSubmatch(s, -1) {
		if m[1] != "" {
			out = append(out, m[1])
		} else if m[2] != "" {
			out = append(out, m[2])
		}
	}
	return out
}
