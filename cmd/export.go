package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <posting-id>",
	Short: "Write the candidate ranking of a posting to an XLSX file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		postingID, err := parseID(args[0], "posting id")
		if err != nil {
			return err
		}
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		a, cleanup, err := newApp(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer cleanup()

		path := exportOutput
		if path == "" {
			path = fmt.Sprintf("posting-%d.xlsx", postingID)
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		if err := a.exporter.Write(cmd.Context(), postingID, f); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default posting-<id>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
