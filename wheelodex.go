// Package wheelodex maintains an inventory of the wheel files published on
// PyPI and keeps it in sync through full scans and the PyPI changelog.
//
// Basic usage:
//
//	inv, err := wheelodex.Open(wheelodex.InventoryConfig{
//		Driver: wheelodex.DriverSQLite,
//		DSN:    "file:wheelodex.db",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inv.Close()
//
//	index := wheelodex.NewPyPI("", nil)
//	stats, err := wheelodex.NewApplier(index, inv).CatchUp(ctx)
//
// The wheelodex command exposes every job with configuration loaded from a
// YAML file and the environment.
package wheelodex

import (
	"github.com/git-pkgs/wheelodex/client"
	"github.com/git-pkgs/wheelodex/internal/inventory"
	"github.com/git-pkgs/wheelodex/internal/pypi"
	"github.com/git-pkgs/wheelodex/internal/scan"
)

// Version is recorded alongside processing errors and reported by the CLI.
const Version = "0.1.0"

// Re-export types from the internal packages
type (
	// Inventory is the wheel inventory.
	Inventory = inventory.Inventory

	// InventoryConfig selects the storage backend.
	InventoryConfig = inventory.Config
	InventoryOption = inventory.Option

	Project     = inventory.Project
	Release     = inventory.Version
	Wheel       = inventory.Wheel
	OrphanWheel = inventory.OrphanWheel
	WheelData   = inventory.WheelData

	// PyPI is the client for PyPI's changelog, JSON and Simple APIs.
	PyPI = pypi.Client

	// Index is what the sync jobs need from a package index.
	Index = scan.Index

	ScanOption = scan.Option
	Scanner    = scan.Scanner
	Applier    = scan.Applier
	Resolver   = scan.Resolver
)

// Re-export constants
const (
	DriverPostgres = inventory.DriverPostgres
	DriverSQLite   = inventory.DriverSQLite
)

// Options
var (
	WithInventoryLogger = inventory.WithLogger
	WithScanLogger      = scan.WithLogger
	WithConcurrency     = scan.WithConcurrency
	WithContinueOnError = scan.WithContinueOnError
)

// Open connects to the inventory database.
func Open(cfg InventoryConfig, opts ...InventoryOption) (*Inventory, error) {
	return inventory.Open(cfg, opts...)
}

// NewPyPI creates a PyPI client. An empty baseURL selects pypi.org and a nil
// client selects client.DefaultClient().
func NewPyPI(baseURL string, c *client.Client) *PyPI {
	return pypi.New(baseURL, c)
}

// NewScanner creates a full scanner.
func NewScanner(index Index, inv *Inventory, opts ...ScanOption) *Scanner {
	return scan.NewScanner(index, inv, opts...)
}

// NewApplier creates a changelog applier.
func NewApplier(index Index, inv *Inventory, opts ...ScanOption) *Applier {
	return scan.NewApplier(index, inv, opts...)
}

// NewResolver creates an orphan resolver.
func NewResolver(index Index, inv *Inventory, opts ...ScanOption) *Resolver {
	return scan.NewResolver(index, inv, opts...)
}
