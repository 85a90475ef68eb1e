package store

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"browsernerd/internal/types"
)

// signupScript carries a sensitive variable and a recorded literal, the two
// things export must strip.
func signupScript(id, name string) *types.Script {
	s := loginScript(id, name)
	s.Actions = append(s.Actions, types.Action{
		Kind:        types.ActionFill,
		Target:      types.Target{Primary: types.TargetCandidate{Strategy: types.ByPlaceholder, Value: "Password"}},
		Value:       "${password}",
		Description: "fill password",
	})
	s.Variables = append(s.Variables, types.Variable{
		Name: "password", Kind: types.VarPassword, Required: true, Sensitive: true,
	})
	return s
}

func TestExport(t *testing.T) {
	s := openStore(t)
	_, err := s.Save(signupScript("s1", "signup"))
	require.NoError(t, err)

	t.Run("package strips stored values", func(t *testing.T) {
		data, err := s.Export("s1", ExportOptions{Author: "qa"})
		require.NoError(t, err)

		var pkg Package
		require.NoError(t, json.Unmarshal(data, &pkg))
		assert.Equal(t, "signup", pkg.Name)
		assert.Equal(t, PackageVersion, pkg.Version)
		assert.Equal(t, "qa", pkg.Author)
		require.Len(t, pkg.Variables, 2)
		for _, v := range pkg.Variables {
			assert.Empty(t, v.Value, "variable %q leaked a stored value", v.Name)
		}
		assert.Equal(t, packageChecksum(&pkg), pkg.Checksum)
		assert.ElementsMatch(t,
			[]string{"actions/v1", "variables/v1", "targets/v1"},
			pkg.Metadata.Compatibility.Features)
	})

	t.Run("unknown script is NotFound", func(t *testing.T) {
		_, err := s.Export("ghost", ExportOptions{})
		assert.Equal(t, types.KindNotFound, types.KindOf(err))
	})

	t.Run("compressed export round trips", func(t *testing.T) {
		plain, err := s.Export("s1", ExportOptions{})
		require.NoError(t, err)
		packed, err := s.Export("s1", ExportOptions{Compress: true})
		require.NoError(t, err)

		assert.True(t, bytes.HasPrefix(packed, []byte(gzipWrapper)))
		assert.Less(t, len(packed), len(plain)*2)

		got, err := decodePackage(packed)
		require.NoError(t, err)
		want, err := decodePackage(plain)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(want.Actions, got.Actions))
	})
}

func TestImport(t *testing.T) {
	t.Run("round trip keeps actions and schema", func(t *testing.T) {
		src := openStore(t)
		original := signupScript("s1", "signup")
		_, err := src.Save(original)
		require.NoError(t, err)
		data, err := src.Export("s1", ExportOptions{Compress: true})
		require.NoError(t, err)

		dst := openStore(t)
		report, err := dst.Import(data, ImportOptions{})
		require.NoError(t, err)
		assert.Equal(t, "signup", report.ScriptName)
		assert.Equal(t, 4, report.ActionCount)
		assert.Equal(t, 2, report.VariableCount)
		assert.False(t, report.NameConflict)

		got, err := dst.Load(report.ScriptID)
		require.NoError(t, err)
		assert.Equal(t, types.OriginImported, got.Origin)
		assert.NotEqual(t, original.ID, got.ID)
		assert.Empty(t, cmp.Diff(original.Actions, got.Actions))
		for _, v := range got.Variables {
			assert.Empty(t, v.Value)
		}
	})

	t.Run("tampered checksum is rejected", func(t *testing.T) {
		s := openStore(t)
		_, err := s.Save(loginScript("s1", "login"))
		require.NoError(t, err)
		data, err := s.Export("s1", ExportOptions{})
		require.NoError(t, err)

		var pkg Package
		require.NoError(t, json.Unmarshal(data, &pkg))
		pkg.Actions[0].URL = "https://evil.example"
		tampered, err := json.Marshal(pkg)
		require.NoError(t, err)

		_, err = s.Import(tampered, ImportOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "checksum")
	})

	t.Run("package validation", func(t *testing.T) {
		s := openStore(t)
		base := func() *Package {
			return &Package{
				Name:    "pkg",
				Version: PackageVersion,
				Actions: []types.Action{
					{Kind: types.ActionNavigate, URL: "https://app.example", Description: "open"},
				},
			}
		}
		cases := []struct {
			name    string
			mutate  func(*Package)
			wantErr string
		}{
			{"garbage version", func(p *Package) { p.Version = "latest" }, "not semver"},
			{"future major", func(p *Package) { p.Version = "2.0.0" }, "unsupported package version"},
			{"unknown feature", func(p *Package) {
				p.Metadata.Compatibility.Features = []string{"actions/v99"}
			}, "unsupported feature"},
			{"missing dependency", func(p *Package) { p.Dependencies = []string{"warmup"} }, "missing script"},
			{"empty name", func(p *Package) { p.Name = "" }, "no name"},
			{"no actions", func(p *Package) { p.Actions = nil }, "no actions"},
			{"stored variable value", func(p *Package) {
				p.Variables = types.VariableSchema{{Name: "email", Kind: types.VarEmail, Value: "a@b.example"}}
			}, "stored value"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				pkg := base()
				tc.mutate(pkg)
				data, err := json.Marshal(pkg)
				require.NoError(t, err)
				_, err = s.Import(data, ImportOptions{})
				require.Error(t, err)
				assert.Equal(t, types.KindSchemaMismatch, types.KindOf(err))
				assert.Contains(t, err.Error(), tc.wantErr)
			})
		}
	})

	t.Run("malformed bytes are rejected", func(t *testing.T) {
		s := openStore(t)
		_, err := s.Import([]byte("{half a package"), ImportOptions{})
		assert.Equal(t, types.KindSchemaMismatch, types.KindOf(err))
		_, err = s.Import([]byte("gz:!!not base64!!"), ImportOptions{})
		assert.Equal(t, types.KindSchemaMismatch, types.KindOf(err))
	})
}

func TestImportConflicts(t *testing.T) {
	exportFrom := func(t *testing.T, s *Store) []byte {
		t.Helper()
		data, err := s.Export("s1", ExportOptions{})
		require.NoError(t, err)
		return data
	}

	t.Run("rename is the default", func(t *testing.T) {
		s := openStore(t)
		_, err := s.Save(loginScript("s1", "login"))
		require.NoError(t, err)
		data := exportFrom(t, s)

		report, err := s.Import(data, ImportOptions{})
		require.NoError(t, err)
		assert.True(t, report.NameConflict)
		assert.False(t, report.Skipped)
		assert.True(t, strings.HasPrefix(report.ScriptName, "login_imported_"))
		assert.Len(t, s.List(), 2)
	})

	t.Run("skip leaves the store untouched", func(t *testing.T) {
		s := openStore(t)
		_, err := s.Save(loginScript("s1", "login"))
		require.NoError(t, err)
		data := exportFrom(t, s)

		report, err := s.Import(data, ImportOptions{Conflict: "skip"})
		require.NoError(t, err)
		assert.True(t, report.Skipped)
		assert.Empty(t, report.ScriptID)
		assert.Len(t, s.List(), 1)
	})

	t.Run("overwrite replaces the previous script", func(t *testing.T) {
		s := openStore(t)
		_, err := s.Save(loginScript("s1", "login"))
		require.NoError(t, err)
		data := exportFrom(t, s)

		report, err := s.Import(data, ImportOptions{Conflict: "overwrite"})
		require.NoError(t, err)
		assert.Equal(t, "login", report.ScriptName)
		require.Len(t, s.List(), 1)

		sum, ok := s.FindByName("login")
		require.True(t, ok)
		assert.Equal(t, report.ScriptID, sum.ID)
		_, err = s.Load("s1")
		assert.Equal(t, types.KindNotFound, types.KindOf(err))
	})

	t.Run("unknown policy is rejected", func(t *testing.T) {
		s := openStore(t)
		_, err := s.Save(loginScript("s1", "login"))
		require.NoError(t, err)
		data := exportFrom(t, s)

		_, err = s.Import(data, ImportOptions{Conflict: "merge"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "merge")
	})
}

func TestImportMapping(t *testing.T) {
	s := openStore(t)
	_, err := s.Save(loginScript("s1", "login"))
	require.NoError(t, err)
	data, err := s.Export("s1", ExportOptions{})
	require.NoError(t, err)

	t.Run("references follow the rename", func(t *testing.T) {
		report, err := s.Import(data, ImportOptions{
			Conflict: "rename",
			Mapping:  map[string]string{"email": "work_email"},
		})
		require.NoError(t, err)

		got, err := s.Load(report.ScriptID)
		require.NoError(t, err)
		require.Len(t, got.Variables, 1)
		assert.Equal(t, "work_email", got.Variables[0].Name)
		assert.Equal(t, "${work_email}", got.Actions[1].Value)
	})

	t.Run("mapping to an illegal name fails", func(t *testing.T) {
		_, err := s.Import(data, ImportOptions{
			Conflict: "rename",
			Mapping:  map[string]string{"email": "9lives"},
		})
		require.Error(t, err)
	})
}

func TestImportValidateOnly(t *testing.T) {
	src := openStore(t)
	_, err := src.Save(signupScript("s1", "signup"))
	require.NoError(t, err)
	data, err := src.Export("s1", ExportOptions{})
	require.NoError(t, err)

	dst := openStore(t)
	report, err := dst.Import(data, ImportOptions{ValidateOnly: true})
	require.NoError(t, err)
	assert.Empty(t, report.ScriptID)
	assert.Equal(t, "signup", report.ScriptName)
	assert.Equal(t, 4, report.ActionCount)
	assert.Empty(t, dst.List(), "validate-only must not persist anything")
}
