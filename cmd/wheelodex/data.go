package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/wheelodex/internal/inventory"
)

// serialPlaceholder in a dump file name is replaced by the stored serial.
const serialPlaceholder = "{serial}"

func (a *app) dumpCmd() *cobra.Command {
	var (
		all     bool
		outfile string
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Dump wheel data as line-delimited JSON",
		Long: "Write one JSON object per wheel to standard output or --outfile. Only analyzed " +
			"wheels are written unless --all is given. A \"{serial}\" in the file name is " +
			"replaced by the serial of the last applied PyPI event.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withInventory(cmd, func(ctx context.Context, inv *inventory.Inventory) error {
				name, err := dumpFileName(ctx, inv, outfile)
				if err != nil {
					return err
				}

				var w io.Writer = cmd.OutOrStdout()
				var f *os.File
				if name != "-" {
					if f, err = os.Create(name); err != nil {
						return fmt.Errorf("creating dump file: %w", err)
					}
					defer func() { _ = f.Close() }()
					w = f
				}
				bw := bufio.NewWriter(w)
				n, err := inv.Dump(ctx, bw, all)
				if err != nil {
					return err
				}
				if err := bw.Flush(); err != nil {
					return fmt.Errorf("writing dump: %w", err)
				}
				if f != nil {
					if err := f.Close(); err != nil {
						return fmt.Errorf("writing dump: %w", err)
					}
				}
				a.log.Info().Int("wheels", n).Str("outfile", name).Msg("dump written")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "A", false, "Dump all wheels")
	cmd.Flags().StringVarP(&outfile, "outfile", "o", "-", "File to dump to")
	return cmd
}

func dumpFileName(ctx context.Context, inv *inventory.Inventory, name string) (string, error) {
	if !strings.Contains(name, serialPlaceholder) {
		return name, nil
	}
	serial, ok, err := inv.GetSerial(ctx)
	if err != nil {
		return "", err
	}
	value := "none"
	if ok {
		value = strconv.FormatInt(serial, 10)
	}
	return strings.ReplaceAll(name, serialPlaceholder, value), nil
}

func (a *app) loadCmd() *cobra.Command {
	var serial int64
	cmd := &cobra.Command{
		Use:   "load FILE",
		Short: "Load wheel data from line-delimited JSON",
		Long: "Read wheel records as produced by dump and add the wheels to the database. " +
			"Wheels that already have data are not modified.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer func() { _ = f.Close() }()

			return a.withInventory(cmd, func(ctx context.Context, inv *inventory.Inventory) error {
				if cmd.Flags().Changed("serial") {
					if err := inv.SetSerial(ctx, serial); err != nil {
						return err
					}
				}
				n, err := inv.Load(ctx, f)
				a.log.Info().Int("records", n).Str("file", args[0]).Msg("wheels loaded")
				return err
			})
		},
	}
	cmd.Flags().Int64VarP(&serial, "serial", "S", 0, "Also update the PyPI serial to the given value")
	return cmd
}

func (a *app) loadEntryPointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load-entry-points FILE",
		Short: "Load entry point group descriptions from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer func() { _ = f.Close() }()

			groups, err := inventory.ParseEntryPointGroups(f)
			if err != nil {
				return err
			}
			return a.withInventory(cmd, func(ctx context.Context, inv *inventory.Inventory) error {
				if err := inv.LoadEntryPointGroups(ctx, groups); err != nil {
					return err
				}
				a.log.Info().Int("groups", len(groups)).Msg("entry point groups loaded")
				return nil
			})
		},
	}
}
