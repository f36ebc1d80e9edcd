package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var requirementsCmd = &cobra.Command{
	Use:   "requirements <posting-id> <document-id>",
	Short: "Extract weighted requirements from a job description document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		postingID, err := parseID(args[0], "posting id")
		if err != nil {
			return err
		}
		documentID, err := parseID(args[1], "document id")
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

		reqs, err := a.requirements.Extract(cmd.Context(), postingID, documentID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range reqs {
			fmt.Fprintf(out, "%2d. [%s] (w=%.1f) %s\n", r.Sequence, strings.Join(r.TagNames(), ", "), r.Weight, r.Text)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(requirementsCmd)
}
