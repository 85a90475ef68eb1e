package store

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"browsernerd/internal/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ImportOptions control conflict handling and validation.
type ImportOptions struct {
	// Conflict policy for a name collision: "rename", "skip", "overwrite".
	Conflict string
	// Mapping renames imported variables: imported name -> local name.
	Mapping map[string]string
	// ValidateOnly returns the preview without persisting.
	ValidateOnly bool
}

// ImportReport is the outcome (or, in validate-only mode, the preview) of an
// import.
type ImportReport struct {
	ScriptID      string   `json:"script_id,omitempty"`
	ScriptName    string   `json:"script_name"`
	ActionCount   int      `json:"action_count"`
	VariableCount int      `json:"variable_count"`
	NameConflict  bool     `json:"name_conflict"`
	Skipped       bool     `json:"skipped"`
	Warnings      []string `json:"warnings,omitempty"`
}

var versionRe = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Import validates a package and persists the resulting script. A package
// variable carrying a value is rejected outright: import packages never hold
// stored values.
func (s *Store) Import(data []byte, opts ImportOptions) (*ImportReport, error) {
	pkg, err := decodePackage(data)
	if err != nil {
		return nil, err
	}
	report := &ImportReport{
		ScriptName:    pkg.Name,
		ActionCount:   len(pkg.Actions),
		VariableCount: len(pkg.Variables),
	}

	if err := s.validatePackage(pkg); err != nil {
		return report, err
	}

	// Variable mapping, then legality of the final names.
	variables := make(types.VariableSchema, len(pkg.Variables))
	for i, v := range pkg.Variables {
		if mapped, ok := opts.Mapping[v.Name]; ok {
			v.Name = mapped
		}
		variables[i] = v
	}
	if err := variables.Validate(); err != nil {
		return report, err
	}

	name := pkg.Name
	if _, exists := s.FindByName(name); exists {
		report.NameConflict = true
		switch opts.Conflict {
		case "rename", "":
			name = renameForImport(name)
		case "skip":
			report.Skipped = true
			return report, nil
		case "overwrite":
			// keep the name; the old script stays under its own id
		default:
			return report, types.NewError(types.KindSchemaMismatch,
				"unknown conflict policy %q", opts.Conflict)
		}
	}

	script := &types.Script{
		ID:          uuid.NewString(),
		Name:        name,
		Description: pkg.Description,
		Origin:      types.OriginImported,
		InitialURL:  pkg.InitialURL,
		Actions:     remapActions(pkg.Actions, opts.Mapping),
		Variables:   variables,
		CreatedAt:   time.Now(),
	}
	if err := script.Validate(); err != nil {
		return report, err
	}

	if opts.ValidateOnly {
		report.ScriptName = name
		return report, nil
	}

	if report.NameConflict && opts.Conflict == "overwrite" {
		if old, ok := s.FindByName(pkg.Name); ok {
			if err := s.Delete(old.ID); err != nil {
				s.log.Warn("overwrite could not remove previous script", zap.Error(err))
			}
		}
	}

	id, err := s.Save(script)
	if err != nil {
		return report, err
	}
	report.ScriptID = id
	report.ScriptName = name
	return report, nil
}

// validatePackage checks version, checksum, features, dependencies and the
// no-stored-values invariant.
func (s *Store) validatePackage(pkg *Package) error {
	if !versionRe.MatchString(pkg.Version) {
		return types.NewError(types.KindSchemaMismatch, "package version %q is not semver", pkg.Version)
	}
	if major := strings.SplitN(pkg.Version, ".", 2)[0]; major != "1" {
		return types.NewError(types.KindSchemaMismatch, "unsupported package version %s", pkg.Version)
	}
	if pkg.Checksum != "" && pkg.Checksum != packageChecksum(pkg) {
		return types.NewError(types.KindSchemaMismatch, "package checksum mismatch")
	}
	for _, f := range pkg.Metadata.Compatibility.Features {
		if _, ok := supportedFeatures[f]; !ok {
			return types.NewError(types.KindSchemaMismatch, "package requires unsupported feature %q", f)
		}
	}
	for _, dep := range pkg.Dependencies {
		if _, exists := s.FindByName(dep); !exists {
			return types.NewError(types.KindSchemaMismatch, "package depends on missing script %q", dep)
		}
	}
	if pkg.Name == "" {
		return types.NewError(types.KindSchemaMismatch, "package has no name")
	}
	if len(pkg.Actions) == 0 {
		return types.NewError(types.KindSchemaMismatch, "package has no actions")
	}
	for _, v := range pkg.Variables {
		if v.Value != "" {
			return types.NewError(types.KindSchemaMismatch,
				"package variable %q carries a stored value", v.Name)
		}
	}
	return nil
}

// renameForImport appends the conflict suffix: _imported_<ts>_<rand>.
func renameForImport(name string) string {
	return fmt.Sprintf("%s_imported_%d_%04d", name, time.Now().Unix(), rand.Intn(10000))
}

// remapActions rewrites ${name} references per the variable mapping.
func remapActions(actions []types.Action, mapping map[string]string) []types.Action {
	if len(mapping) == 0 {
		return actions
	}
	out := make([]types.Action, len(actions))
	for i, a := range actions {
		for from, to := range mapping {
			a.URL = replaceRef(a.URL, from, to)
			a.Value = replaceRef(a.Value, from, to)
			a.Option = replaceRef(a.Option, from, to)
			if a.Variable == from {
				a.Variable = to
			}
		}
		out[i] = a
	}
	return out
}

func replaceRef(s, from, to string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "${"+from+"}", "${"+to+"}")
	s = strings.ReplaceAll(s, "{{"+from+"}}", "{{"+to+"}}")
	return s
}
