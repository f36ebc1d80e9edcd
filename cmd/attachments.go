package main

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

var assumeYes bool

var attachmentsCmd = &cobra.Command{
	Use:   "attachments",
	Short: "Manage posting CV attachments",
}

var attachmentsDeleteCmd = &cobra.Command{
	Use:   "delete <posting-id>",
	Short: "Delete all CV attachments of a posting and reset its batch state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		postingID, err := parseID(args[0], "posting id")
		if err != nil {
			return err
		}
		if !assumeYes {
			ok, err := confirm(fmt.Sprintf("Delete all CV attachments of posting %d", postingID))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "aborted")
				return nil
			}
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

		deleted, err := a.batches.DeleteAttachments(cmd.Context(), postingID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d attachments\n", deleted)
		return nil
	},
}

// confirm 交互确认，测试中可替换。
var confirm = func(label string) (bool, error) {
	p := promptui.Prompt{Label: label, IsConfirm: true}
	if _, err := p.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func init() {
	attachmentsDeleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
	attachmentsCmd.AddCommand(attachmentsDeleteCmd)
	rootCmd.AddCommand(attachmentsCmd)
}
