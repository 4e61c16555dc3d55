// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	peloader "github.com/saferwall/peloader"
	"github.com/spf13/cobra"
)

func newLoadCmd() *cobra.Command {
	var callEntry bool
	var exportName string

	cmd := &cobra.Command{
		Use:   "load [file]",
		Short: "Map a PE image into this process and run it",
		Long:  "Reserves memory, relocates, binds imports, finalizes section protections and runs TLS callbacks, then attaches a DLL; with --call-entry it also runs an EXE entry point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mod := peloader.NewModule(peloader.NewPlatformOps(), nil)
			if err := mod.LoadFile(args[0], nil); err != nil {
				return fmt.Errorf("load failed: %w", err)
			}
			defer mod.Dispose()

			if callEntry {
				ret, err := mod.CallEntry()
				if err != nil {
					return fmt.Errorf("call entry failed: %w", err)
				}
				fmt.Printf("entry point returned %d\n", ret)
			}

			if exportName != "" {
				addr, err := mod.GetFunction(exportName)
				if err != nil {
					return fmt.Errorf("export lookup failed: %w", err)
				}
				fmt.Printf("%s resolved to 0x%x\n", exportName, addr)
			}

			fmt.Println("image loaded successfully")
			return nil
		},
	}

	cmd.Flags().BoolVar(&callEntry, "call-entry", false, "invoke the EXE entry point after loading")
	cmd.Flags().StringVar(&exportName, "export", "", "resolve and print the address of a named export after loading")

	return cmd
}
