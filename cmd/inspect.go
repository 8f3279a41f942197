/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/dashcrypt/cryptgen/pkg/cryptfile"
	"github.com/dashcrypt/cryptgen/pkg/pssh"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <cryptfile>",
	Short: "Decode the pssh boxes and keys of a cryptfile",
	Args:  cobra.ExactArgs(1),
	RunE:  inspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().Bool("keys", false, "also print the key values")
}

func inspect(cmd *cobra.Command, args []string) error {
	showKeys, err := cmd.Flags().GetBool("keys")
	if err != nil {
		return err
	}
	doc, err := cryptfile.ReadFile(args[0])
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Scheme: %s\n", doc.Scheme())

	for i, info := range doc.DRMInfos() {
		box, err := info.Box()
		if err != nil {
			return fmt.Errorf("DRMInfo %d: %w", i, err)
		}
		raw, err := box.Bytes()
		if err != nil {
			return fmt.Errorf("DRMInfo %d: %w", i, err)
		}
		report, err := pssh.Inspect(raw)
		if err != nil {
			return fmt.Errorf("DRMInfo %d: %w", i, err)
		}
		renderReport(w, i, report)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle("Tracks")
	header := table.Row{"Track", "IV size", "First IV", "Key roll", "KID"}
	if showKeys {
		header = append(header, "Key")
	}
	tw.AppendHeader(header)
	for _, t := range doc.Tracks() {
		for _, k := range t.Keys {
			row := table.Row{t.TrackID, t.IVSize, t.FirstIV, t.KeyRoll, k.KID}
			if showKeys {
				row = append(row, k.Value)
			}
			tw.AppendRow(row)
		}
	}
	tw.Render()
	return nil
}

func renderReport(w io.Writer, i int, r *pssh.Report) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle(fmt.Sprintf("DRMInfo %d: %s", i, r.System))
	tw.AppendRow(table.Row{"System ID", r.SystemID})
	tw.AppendRow(table.Row{"Version", r.Version})
	for _, kid := range r.AllKeyIDs() {
		tw.AppendRow(table.Row{"KID", kid})
	}
	switch {
	case r.Widevine != nil:
		h := r.Widevine
		tw.AppendRow(table.Row{"Provider", h.Provider})
		tw.AppendRow(table.Row{"Content ID", string(h.ContentID)})
		if h.Policy != "" {
			tw.AppendRow(table.Row{"Policy", h.Policy})
		}
		if h.CryptoPeriodIndex != nil {
			tw.AppendRow(table.Row{"Crypto period", *h.CryptoPeriodIndex})
		}
	case r.PlayReady != nil && r.PlayReady.Header != nil:
		h := r.PlayReady.Header
		tw.AppendRow(table.Row{"WRMHEADER", h.Version})
		tw.AppendRow(table.Row{"Algorithm", h.Algorithm})
		if h.LicenseURL != "" {
			tw.AppendRow(table.Row{"License URL", h.LicenseURL})
		}
	case len(r.Marlin) > 0:
		for _, m := range r.Marlin {
			tw.AppendRow(table.Row{"Content ID", m.ContentID})
		}
	case len(r.Data) > 0:
		tw.AppendRow(table.Row{"Data", truncate(hex.EncodeToString(r.Data), 64)})
	}
	tw.Render()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + strings.Repeat(".", 3)
}
