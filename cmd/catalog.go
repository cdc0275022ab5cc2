// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/panelsim/pkg/fleet"
	"github.com/Thermoquad/panelsim/pkg/lamplist"
	"github.com/Thermoquad/panelsim/pkg/panelproto"
	"github.com/Thermoquad/panelsim/pkg/vfs"
)

var (
	catalogPhone   string
	catalogPattern string
	catalogDump    string
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Show the files each panel serves",
	Long: `List the virtual files of every configured panel, as the server would see
them through file search. The generated lamp list is decoded node by node.

Use --pattern to filter with the panel's wildcard syntax (e.g. "STATE*.DAT")
and --dump NAME to hex dump one file.`,
	RunE: runCatalog,
}

func init() {
	catalogCmd.Flags().StringVar(&catalogPhone, "phone", "", "Only show this panel")
	catalogCmd.Flags().StringVar(&catalogPattern, "pattern", "*", "File name template")
	catalogCmd.Flags().StringVar(&catalogDump, "dump", "", "Hex dump this file")
	rootCmd.AddCommand(catalogCmd)
}

func runCatalog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	registry, err := fleet.NewRegistry(cfg, fleet.WithLogger(logger))
	if err != nil {
		return err
	}

	devices := registry.Devices()
	if catalogPhone != "" {
		d, ok := registry.Device(catalogPhone)
		if !ok {
			return fmt.Errorf("unknown device %q", catalogPhone)
		}
		devices = []*fleet.Device{d}
	}

	for _, d := range devices {
		fmt.Printf("%s %s\n", d.Phone(), d.Name())

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, info := range d.Catalog().Files() {
			if !vfs.Match(catalogPattern, info.Name) {
				continue
			}
			fmt.Fprintf(w, "  %s\t%d bytes\t%s\n", info.Name, info.Size, info.ModTime.Format("2006-01-02 15:04:05"))
		}
		w.Flush()

		if catalogDump != "" {
			content, ok := d.Catalog().Content(catalogDump)
			if !ok {
				fmt.Printf("  no file %s\n", catalogDump)
			} else {
				fmt.Print(panelproto.FormatHexDump(content))
				if catalogDump == lamplist.FileName {
					printLamps(content)
				}
			}
		}
		fmt.Println()
	}
	return nil
}
