// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	peloader "github.com/saferwall/peloader"
	"github.com/spf13/cobra"
)

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe [file]",
		Short: "Report an image's coarse header shape without mapping or decoding data directories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			summary, err := peloader.PeView{}.Probe(data)
			if err != nil {
				return fmt.Errorf("probe failed: %w", err)
			}

			fmt.Printf("machine: %s (matches host: %v)\n", summary.Machine, summary.MachineHost)
			fmt.Printf("subsystem: %d\n", summary.Subsystem)
			fmt.Printf("sections (%d): %v\n", summary.NumberOfSections, summary.SectionNames)
			fmt.Printf("entry point RVA: 0x%x\n", summary.EntryPointRVA)
			fmt.Printf("is32=%v is64=%v export=%v import=%v reloc=%v tls=%v\n",
				summary.Is32, summary.Is64, summary.HasExport, summary.HasImport,
				summary.HasReloc, summary.HasTLS)
			return nil
		},
	}
	return cmd
}
