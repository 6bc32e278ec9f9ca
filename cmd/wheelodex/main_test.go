package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/git-pkgs/wheelodex/internal/config"
	"github.com/git-pkgs/wheelodex/internal/inventory"
)

// testEnv points the CLI at a fresh SQLite file and stats directory.
func testEnv(t *testing.T) (dir, dsn string) {
	t.Helper()
	dir = t.TempDir()
	dsn = "file:" + filepath.Join(dir, "wheelodex.db")
	t.Setenv(config.EnvConfig, "")
	t.Setenv("WHEELODEX_DATABASE_DRIVER", "sqlite")
	t.Setenv("WHEELODEX_DATABASE_DSN", dsn)
	t.Setenv("WHEELODEX_STATS_LOG_DIR", filepath.Join(dir, "stats"))
	t.Setenv("WHEELODEX_REDIS_URL", "")
	t.Setenv("WHEELODEX_LOG_LEVEL", "error")
	return dir, dsn
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("wheelodex %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func openInventory(t *testing.T, dsn string) *inventory.Inventory {
	t.Helper()
	inv, err := inventory.Open(inventory.Config{Driver: inventory.DriverSQLite, DSN: dsn})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = inv.Close() })
	return inv
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInitdb(t *testing.T) {
	_, dsn := testEnv(t)

	if out := mustRun(t, "initdb"); !strings.Contains(out, "Initializing database") {
		t.Errorf("first initdb: %q", out)
	}
	if out := mustRun(t, "initdb"); !strings.Contains(out, "already be initialized") {
		t.Errorf("second initdb: %q", out)
	}
	if out := mustRun(t, "initdb", "--force"); !strings.Contains(out, "Initializing database") {
		t.Errorf("forced initdb: %q", out)
	}

	serial, ok, err := openInventory(t, dsn).GetSerial(context.Background())
	if err != nil || !ok || serial != 0 {
		t.Errorf("GetSerial = %d, %v, %v", serial, ok, err)
	}
}

const record = `{"pypi":{"filename":"foo-1.0-py3-none-any.whl","url":"https://files.example/foo-1.0-py3-none-any.whl","project":"foo","version":"1.0","size":10,"md5":null,"sha256":null,"uploaded":"2024-01-01T00:00:00Z"},"data":null,"wheelodex":null,"errored":false}`

func TestLoadAndDump(t *testing.T) {
	dir, dsn := testEnv(t)
	mustRun(t, "initdb")

	in := writeFile(t, dir, "in.jsonl", record+"\n")
	mustRun(t, "load", "--serial", "42", in)

	ctx := context.Background()
	inv := openInventory(t, dsn)
	serial, _, err := inv.GetSerial(ctx)
	if err != nil || serial != 42 {
		t.Fatalf("serial = %d, %v", serial, err)
	}
	w, err := inv.GetWheel(ctx, "foo-1.0-py3-none-any.whl")
	if err != nil || w == nil {
		t.Fatalf("GetWheel: %v, %v", w, err)
	}

	// Without --all only analyzed wheels are written.
	if out := mustRun(t, "dump"); out != "" {
		t.Errorf("dump = %q, want empty", out)
	}

	mustRun(t, "dump", "--all", "--outfile", filepath.Join(dir, "dump-{serial}.jsonl"))
	data, err := os.ReadFile(filepath.Join(dir, "dump-42.jsonl"))
	if err != nil {
		t.Fatalf("reading dump: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(string(data)), "\n"); len(lines) != 1 {
		t.Fatalf("got %d lines", len(lines))
	}
	if !strings.Contains(string(data), `"purl":"pkg:pypi/foo@1.0"`) {
		t.Errorf("dump missing purl: %s", data)
	}
}

func TestLoadEntryPoints(t *testing.T) {
	dir, dsn := testEnv(t)
	mustRun(t, "initdb")

	path := writeFile(t, dir, "groups.yaml", "console_scripts:\n  summary: Commands installed on PATH\n")
	mustRun(t, "load-entry-points", path)

	g, err := openInventory(t, dsn).EntryPointGroup(context.Background(), "console_scripts")
	if err != nil || g == nil {
		t.Fatalf("EntryPointGroup: %v, %v", g, err)
	}
	if g.Summary == nil || *g.Summary != "Commands installed on PATH" {
		t.Errorf("Summary = %v", g.Summary)
	}

	if _, err := run(t, "load-entry-points", filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestOfflineJobsWriteStats(t *testing.T) {
	dir, _ := testEnv(t)
	mustRun(t, "initdb")
	mustRun(t, "purge-old-versions")
	mustRun(t, "process-queue", "--max-wheel-size", "1000")
	mustRun(t, "process-orphan-wheels")

	for _, name := range []string{"purge_old_versions.log", "process_queue.log", "process_orphan_wheels.log"} {
		data, err := os.ReadFile(filepath.Join(dir, "stats", name))
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if !strings.Contains(string(data), `"stats":`) {
			t.Errorf("%s = %q", name, data)
		}
	}
}

func TestScanChangelogWithoutSerial(t *testing.T) {
	_, dsn := testEnv(t)
	if err := openInventory(t, dsn).Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err := run(t, "scan-changelog")
	if err == nil || !strings.Contains(err.Error(), "no saved state") {
		t.Fatalf("got %v, want missing serial error", err)
	}
}

func TestBadConfig(t *testing.T) {
	testEnv(t)
	t.Setenv("WHEELODEX_DATABASE_DRIVER", "oracle")
	if _, err := run(t, "initdb"); err == nil {
		t.Fatal("expected config error")
	}
}

const projectJSON = `{
  "info": {"name": "foo", "summary": "A foo", "version": "1.0"},
  "releases": {
    "1.0": [{
      "filename": "foo-1.0-py3-none-any.whl",
      "url": "https://files.example/foo-1.0-py3-none-any.whl",
      "size": 1234,
      "digests": {"md5": "ab", "sha256": "cd"},
      "upload_time_iso_8601": "2023-05-22T15:12:42.313790Z"
    }]
  }
}`

const changelogSince = `<?xml version='1.0'?>
<methodResponse><params><param>
<value><array><data>
<value><array><data>
<value><string>bar</string></value>
<value><nil/></value>
<value><int>1700000000</int></value>
<value><string>create</string></value>
<value><int>501</int></value>
</data></array></value>
</data></array></value>
</param></params></methodResponse>`

func fakePyPI(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/pypi":
			body, _ := io.ReadAll(r.Body)
			switch {
			case strings.Contains(string(body), "changelog_last_serial"):
				_, _ = w.Write([]byte(`<?xml version="1.0"?><methodResponse><params><param><value><int>500</int></value></param></params></methodResponse>`))
			case strings.Contains(string(body), "changelog_since_serial"):
				_, _ = w.Write([]byte(changelogSince))
			default:
				t.Errorf("unexpected call: %s", body)
			}
		case r.URL.Path == "/simple/":
			_, _ = w.Write([]byte(`{"meta":{"api-version":"1.1"},"projects":[{"name":"foo"}]}`))
		case r.URL.Path == "/pypi/foo/json":
			_, _ = w.Write([]byte(projectJSON))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestScanPyPIWithCatchUp(t *testing.T) {
	dir, dsn := testEnv(t)
	t.Setenv("WHEELODEX_PYPI_BASE_URL", fakePyPI(t).URL)
	mustRun(t, "initdb")
	mustRun(t, "scan-pypi", "--catch-up")

	ctx := context.Background()
	inv := openInventory(t, dsn)
	w, err := inv.GetWheel(ctx, "foo-1.0-py3-none-any.whl")
	if err != nil || w == nil {
		t.Fatalf("GetWheel: %v, %v", w, err)
	}
	if p, err := inv.GetProject(ctx, "bar"); err != nil || p == nil {
		t.Errorf("GetProject(bar) = %v, %v", p, err)
	}
	serial, _, err := inv.GetSerial(ctx)
	if err != nil || serial != 501 {
		t.Errorf("serial = %d, %v", serial, err)
	}

	for _, name := range []string{"scan_pypi.log", "scan_changelog.log"} {
		if _, err := os.Stat(filepath.Join(dir, "stats", name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}
