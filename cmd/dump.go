// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"

	peloader "github.com/saferwall/peloader"
	"github.com/spf13/cobra"
)

func prettyPrint(buf []byte) string {
	var out bytes.Buffer
	if err := json.Indent(&out, buf, "", "\t"); err != nil {
		return string(buf)
	}
	return out.String()
}

func newDumpCmd() *cobra.Command {
	var wantDOSHeader, wantNTHeader, wantSections, wantExport, wantImport, wantReloc, wantTLS, wantAll bool

	cmd := &cobra.Command{
		Use:   "dump [file]",
		Short: "Parse a PE image and print its headers, without mapping it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := peloader.NewRawFile(args[0], nil)
			if err != nil {
				return err
			}
			defer raw.Close()

			if err := raw.Parse(); err != nil {
				log.Printf("parse reported: %v", err)
			}

			if wantDOSHeader || wantAll {
				b, _ := json.Marshal(raw.DOSHeader)
				fmt.Println(prettyPrint(b))
			}
			if wantNTHeader || wantAll {
				b, _ := json.Marshal(raw.NtHeader)
				fmt.Println(prettyPrint(b))
			}
			if wantSections || wantAll {
				b, _ := json.Marshal(raw.Sections)
				fmt.Println(prettyPrint(b))
			}
			if wantExport || wantAll {
				b, _ := json.Marshal(raw.Export)
				fmt.Println(prettyPrint(b))
			}
			if wantImport || wantAll {
				b, _ := json.Marshal(raw.Imports)
				fmt.Println(prettyPrint(b))
			}
			if wantReloc || wantAll {
				b, _ := json.Marshal(raw.Relocations)
				fmt.Println(prettyPrint(b))
			}
			if wantTLS || wantAll {
				b, _ := json.Marshal(raw.TLS)
				fmt.Println(prettyPrint(b))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&wantDOSHeader, "dosheader", false, "Dump DOS header")
	cmd.Flags().BoolVar(&wantNTHeader, "ntheader", false, "Dump NT header")
	cmd.Flags().BoolVar(&wantSections, "sections", false, "Dump section headers")
	cmd.Flags().BoolVar(&wantExport, "export", false, "Dump export table")
	cmd.Flags().BoolVar(&wantImport, "import", false, "Dump import table")
	cmd.Flags().BoolVar(&wantReloc, "reloc", false, "Dump base relocations")
	cmd.Flags().BoolVar(&wantTLS, "tls", false, "Dump TLS directory")
	cmd.Flags().BoolVar(&wantAll, "all", false, "Dump everything")

	return cmd
}
