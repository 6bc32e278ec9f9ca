package inspect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

const sampleDocument = `{
  "filename": "foo-1.0-py3-none-any.whl",
  "project": "foo",
  "version": "1.0",
  "valid": true,
  "file": {"size": 1234, "digests": {"md5": "ABC", "sha256": "DEF"}},
  "dist_info": {
    "metadata": {"summary": "Foo things"},
    "entry_points": {
      "console_scripts": {"foo": {"module": "foo.cli"}, "bar": {"module": "foo.bar"}}
    },
    "record": [
      {"path": "foo/__init__.py"},
      {"path": "foo/cli.py"},
      {"path": "foo/__init__.py"}
    ]
  },
  "derived": {
    "dependencies": ["requests", "click"],
    "keywords": ["cli"],
    "modules": ["foo", "foo.cli"]
  }
}`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(sampleDocument))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if m.Project != "foo" || m.Version != "1.0" || !m.Valid {
		t.Errorf("unexpected header fields: %+v", m)
	}
	if m.File.Size != 1234 || m.File.Digests.MD5 != "abc" || m.File.Digests.SHA256 != "def" {
		t.Errorf("unexpected file info: %+v", m.File)
	}
	if m.Summary == nil || *m.Summary != "Foo things" {
		t.Errorf("Summary = %v", m.Summary)
	}
	if got := m.EntryPoints["console_scripts"]; !slices.Equal(got, []string{"bar", "foo"}) {
		t.Errorf("entry points = %v", got)
	}
	if !slices.Equal(m.Files, []string{"foo/__init__.py", "foo/cli.py"}) {
		t.Errorf("Files = %v", m.Files)
	}
	if !slices.Equal(m.Dependencies, []string{"requests", "click"}) {
		t.Errorf("Dependencies = %v", m.Dependencies)
	}
	if len(m.Raw) != len(sampleDocument) {
		t.Errorf("Raw length = %d, want %d", len(m.Raw), len(sampleDocument))
	}
}

func TestParseErrors(t *testing.T) {
	for _, doc := range []string{"", "not json", `{"valid": true}`} {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("Parse(%q) succeeded", doc)
		}
	}
}

func TestCommandInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	if err := os.WriteFile(path, []byte(sampleDocument), 0o644); err != nil {
		t.Fatal(err)
	}

	// cat echoes the document back, standing in for the real tool.
	c := NewCommand([]string{"cat"}, "")
	if c.Version() != "unknown" {
		t.Errorf("Version = %q", c.Version())
	}
	m, err := c.Inspect(context.Background(), path)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if m.Project != "foo" {
		t.Errorf("Project = %q", m.Project)
	}
}

func TestCommandInspectFailure(t *testing.T) {
	ctx := context.Background()
	missing := filepath.Join(t.TempDir(), "missing.whl")

	for _, args := range [][]string{nil, {"cat"}, {"false"}} {
		_, err := NewCommand(args, "1.0").Inspect(ctx, missing)
		if !errors.Is(err, ErrInspectFailed) {
			t.Errorf("Inspect with %v: err = %v, want ErrInspectFailed", args, err)
		}
	}
}
