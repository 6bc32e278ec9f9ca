package changelog

import (
	"testing"
	"time"
)

func TestNewClassifiesActions(t *testing.T) {
	tests := []struct {
		action   string
		kind     Kind
		pyver    string
		filename string
	}{
		{"add py3 file foo-1.0-py3-none-any.whl", FileCreated, "py3", "foo-1.0-py3-none-any.whl"},
		{"add source file foo-1.0.tar.gz", FileCreated, "source", "foo-1.0.tar.gz"},
		{"remove file foo-1.0-py3-none-any.whl", FileRemoved, "", "foo-1.0-py3-none-any.whl"},
		{"create", ProjectCreated, "", ""},
		{"remove project", ProjectRemoved, "", ""},
		{"new release", VersionCreated, "", ""},
		{"remove release", VersionRemoved, "", ""},
		{"add Owner alice", Other, "", ""},
		{"remove Maintainer bob", Other, "", ""},
		{"change Owner alice to Maintainer", Other, "", ""},
		{"nuke user", Other, "", ""},
		{"docdestroy", Other, "", ""},
		{"yank release", Other, "", ""},
		{"unyank release", Other, "", ""},
		{"invite Maintainer carol", Other, "", ""},
		{"", Other, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			e := New("foo", "1.0", 0, tt.action, 1)
			if e.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", e.Kind, tt.kind)
			}
			if e.PythonVersion != tt.pyver {
				t.Errorf("PythonVersion = %q, want %q", e.PythonVersion, tt.pyver)
			}
			if e.Filename != tt.filename {
				t.Errorf("Filename = %q, want %q", e.Filename, tt.filename)
			}
		})
	}
}

func TestIsWheel(t *testing.T) {
	if !New("foo", "1.0", 0, "add py3 file FOO-1.0-py3-none-any.WHL", 1).IsWheel() {
		t.Error("IsWheel should be case-insensitive")
	}
	if New("foo", "1.0", 0, "remove file foo-1.0.tar.gz", 1).IsWheel() {
		t.Error("sdist reported as wheel")
	}
	if New("foo", "1.0", 0, "new release", 1).IsWheel() {
		t.Error("non-file event reported as wheel")
	}
}

func TestParse(t *testing.T) {
	e, err := Parse([]any{"foo", nil, int64(1700000000), "create", int64(42)})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if e.Project != "foo" || e.Version != "" || e.Serial != 42 || e.Kind != ProjectCreated {
		t.Errorf("Parse = %+v", e)
	}
	if got := e.Time(); !got.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Time = %v", got)
	}
	if got, want := e.ID(), "42 @ 2023-11-14T22:13:20Z"; got != want {
		t.Errorf("ID = %q, want %q", got, want)
	}
}

func TestParseErrors(t *testing.T) {
	bad := [][]any{
		{"foo", nil, 1, "create"},
		{1, nil, 1, "create", 2},
		{"foo", 1.5, 1, "create", 2},
		{"foo", nil, "x", "create", 2},
		{"foo", nil, 1, nil, 2},
		{"foo", nil, 1, "create", "2"},
	}
	for _, fields := range bad {
		if _, err := Parse(fields); err == nil {
			t.Errorf("Parse(%v) succeeded, want error", fields)
		}
	}
}

func TestKindString(t *testing.T) {
	if FileCreated.String() != "file_created" {
		t.Errorf("FileCreated.String() = %q", FileCreated.String())
	}
	if Kind(99).String() != "Kind(99)" {
		t.Errorf("Kind(99).String() = %q", Kind(99).String())
	}
}
