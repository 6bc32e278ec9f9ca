package wheelodex_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/git-pkgs/wheelodex"
)

func TestOpen(t *testing.T) {
	inv, err := wheelodex.Open(wheelodex.InventoryConfig{
		Driver: wheelodex.DriverSQLite,
		DSN:    "file:" + filepath.Join(t.TempDir(), "wheelodex.db"),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = inv.Close() }()

	ctx := context.Background()
	if err := inv.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	var buf bytes.Buffer
	n, err := inv.Dump(ctx, &buf, true)
	if err != nil || n != 0 || buf.Len() != 0 {
		t.Errorf("Dump = %d, %v, %q", n, err, buf.String())
	}
}

func TestConstructors(t *testing.T) {
	index := wheelodex.NewPyPI("", nil)
	if got := index.URLs().SimpleIndex(); got != "https://pypi.org/simple/" {
		t.Errorf("SimpleIndex = %q", got)
	}

	var _ wheelodex.Index = index
	if wheelodex.NewScanner(index, nil, wheelodex.WithConcurrency(4)) == nil {
		t.Error("NewScanner returned nil")
	}
	if wheelodex.NewApplier(index, nil) == nil || wheelodex.NewResolver(index, nil) == nil {
		t.Error("constructor returned nil")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := wheelodex.Open(wheelodex.InventoryConfig{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatal("expected error")
	}
}
