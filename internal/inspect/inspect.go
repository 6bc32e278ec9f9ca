// Package inspect defines the contract between wheelodex and the tool that
// extracts structured metadata from a wheel file.
package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
)

// ErrInspectFailed is returned when the inspector cannot produce metadata.
var ErrInspectFailed = errors.New("wheel inspection failed")

// Inspector turns a wheel file on disk into Metadata.
type Inspector interface {
	Inspect(ctx context.Context, path string) (*Metadata, error)
	// Version identifies the inspector build that produced the metadata.
	Version() string
}

// Digests are the checksums of the inspected file.
type Digests struct {
	MD5    string `json:"md5"`
	SHA256 string `json:"sha256"`
}

// FileInfo describes the inspected file itself.
type FileInfo struct {
	Size    int64   `json:"size"`
	Digests Digests `json:"digests"`
}

// Metadata is the result of inspecting a wheel. Raw holds the complete
// document as produced; the other fields are the parts wheelodex indexes.
type Metadata struct {
	Raw json.RawMessage

	Project      string
	Version      string
	Valid        bool
	File         FileInfo
	Summary      *string
	EntryPoints  map[string][]string
	Dependencies []string
	Keywords     []string
	Modules      []string
	Files        []string
}

type document struct {
	Project  string   `json:"project"`
	Version  string   `json:"version"`
	Valid    bool     `json:"valid"`
	File     FileInfo `json:"file"`
	DistInfo struct {
		Metadata struct {
			Summary *string `json:"summary"`
		} `json:"metadata"`
		EntryPoints map[string]map[string]json.RawMessage `json:"entry_points"`
		Record      []struct {
			Path string `json:"path"`
		} `json:"record"`
	} `json:"dist_info"`
	Derived struct {
		Dependencies []string `json:"dependencies"`
		Keywords     []string `json:"keywords"`
		Modules      []string `json:"modules"`
	} `json:"derived"`
}

// Parse decodes an inspector document.
func Parse(data []byte) (*Metadata, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding wheel metadata: %w", err)
	}
	if doc.Project == "" {
		return nil, fmt.Errorf("decoding wheel metadata: missing project")
	}

	m := &Metadata{
		Raw:          json.RawMessage(bytes.Clone(data)),
		Project:      doc.Project,
		Version:      doc.Version,
		Valid:        doc.Valid,
		File:         doc.File,
		Summary:      doc.DistInfo.Metadata.Summary,
		Dependencies: doc.Derived.Dependencies,
		Keywords:     doc.Derived.Keywords,
		Modules:      doc.Derived.Modules,
	}
	m.File.Digests.MD5 = strings.ToLower(m.File.Digests.MD5)
	m.File.Digests.SHA256 = strings.ToLower(m.File.Digests.SHA256)

	if len(doc.DistInfo.EntryPoints) > 0 {
		m.EntryPoints = make(map[string][]string, len(doc.DistInfo.EntryPoints))
		for group, eps := range doc.DistInfo.EntryPoints {
			names := make([]string, 0, len(eps))
			for name := range eps {
				names = append(names, name)
			}
			slices.Sort(names)
			m.EntryPoints[group] = names
		}
	}

	// Some RECORDs list a path twice.
	seen := make(map[string]bool, len(doc.DistInfo.Record))
	for _, r := range doc.DistInfo.Record {
		if r.Path == "" || seen[r.Path] {
			continue
		}
		seen[r.Path] = true
		m.Files = append(m.Files, r.Path)
	}
	return m, nil
}

// Command runs an external program with the wheel path as its last argument
// and parses the JSON document it prints on stdout.
type Command struct {
	Args        []string
	ToolVersion string
}

// NewCommand creates a Command inspector. An empty version is reported as
// "unknown".
func NewCommand(args []string, version string) *Command {
	if version == "" {
		version = "unknown"
	}
	return &Command{Args: args, ToolVersion: version}
}

// Version returns the configured tool version.
func (c *Command) Version() string {
	return c.ToolVersion
}

// Inspect runs the command against path.
func (c *Command) Inspect(ctx context.Context, path string) (*Metadata, error) {
	if len(c.Args) == 0 {
		return nil, fmt.Errorf("%w: no inspector command configured", ErrInspectFailed)
	}
	args := append(append([]string{}, c.Args[1:]...), path)
	cmd := exec.CommandContext(ctx, c.Args[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 4096 {
			msg = msg[len(msg)-4096:]
		}
		if msg != "" {
			return nil, fmt.Errorf("%w: %s: %v: %s", ErrInspectFailed, c.Args[0], err, msg)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInspectFailed, c.Args[0], err)
	}

	m, err := Parse(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInspectFailed, err)
	}
	return m, nil
}
