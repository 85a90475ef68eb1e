package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"browsernerd/internal/types"
)

// PackageVersion is the export format version.
const PackageVersion = "1.0.0"

// supportedFeatures are the capabilities this build can honor on import.
var supportedFeatures = map[string]struct{}{
	"actions/v1":   {},
	"variables/v1": {},
	"targets/v1":   {},
}

// PackageMetadata travels with an exported script.
type PackageMetadata struct {
	CreatedAt     time.Time `json:"created_at"`
	Compatibility struct {
		Features []string `json:"features"`
	} `json:"compatibility"`
}

// Package is the portable export format. Variables never carry values; users
// supply them at execution time.
type Package struct {
	Name         string               `json:"name"`
	Version      string               `json:"version"`
	Author       string               `json:"author,omitempty"`
	Description  string               `json:"description,omitempty"`
	Variables    types.VariableSchema `json:"variables"`
	Actions      []types.Action       `json:"actions"`
	InitialURL   string               `json:"initial_url,omitempty"`
	Metadata     PackageMetadata      `json:"metadata"`
	Dependencies []string             `json:"dependencies,omitempty"`
	Checksum     string               `json:"checksum,omitempty"`
}

// ExportOptions tune an export.
type ExportOptions struct {
	Author   string
	Compress bool
}

// Export builds a portable package for the script. Sensitive variable values
// are redacted regardless of options; all stored values are stripped.
func (s *Store) Export(id string, opts ExportOptions) ([]byte, error) {
	script, err := s.Load(id)
	if err != nil {
		return nil, err
	}

	pkg := Package{
		Name:        script.Name,
		Version:     PackageVersion,
		Author:      opts.Author,
		Description: script.Description,
		Actions:     script.Actions,
		InitialURL:  script.InitialURL,
	}
	pkg.Metadata.CreatedAt = time.Now()
	pkg.Metadata.Compatibility.Features = []string{"actions/v1", "variables/v1", "targets/v1"}

	pkg.Variables = make(types.VariableSchema, len(script.Variables))
	for i, v := range script.Variables {
		v.Value = "" // packages never carry stored values
		pkg.Variables[i] = v
	}

	pkg.Checksum = packageChecksum(&pkg)

	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal package: %w", err)
	}
	if opts.Compress {
		return compressPackage(data)
	}
	return data, nil
}

// packageChecksum hashes the canonical JSON of the package without its
// checksum field.
func packageChecksum(pkg *Package) string {
	clone := *pkg
	clone.Checksum = ""
	canonical, _ := json.Marshal(clone)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// gzipMagic prefixes the base64 wrapper so decodePackage can tell the two
// encodings apart.
const gzipWrapper = "gz:"

func compressPackage(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return []byte(gzipWrapper + base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}

// decodePackage parses raw package bytes, transparently handling the gzip
// base64 wrapping.
func decodePackage(data []byte) (*Package, error) {
	if bytes.HasPrefix(data, []byte(gzipWrapper)) {
		raw, err := base64.StdEncoding.DecodeString(string(data[len(gzipWrapper):]))
		if err != nil {
			return nil, types.WrapError(types.KindSchemaMismatch, err, "package base64 is invalid")
		}
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, types.WrapError(types.KindSchemaMismatch, err, "package gzip is invalid")
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, types.WrapError(types.KindSchemaMismatch, err, "package gzip is truncated")
		}
	}
	var pkg Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, types.WrapError(types.KindSchemaMismatch, err, "package JSON is invalid")
	}
	return &pkg, nil
}
