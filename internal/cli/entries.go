package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(entriesCmd)
	rootCmd.AddCommand(unlinkCmd)
}

var entriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "List linked kids",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		list, err := entryStore().List()
		if err != nil {
			return err
		}
		renderEntries(cmd.OutOrStdout(), list)
		return nil
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <entry-id>",
	Short: "Remove a linked kid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := entryStore().Remove(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed entry %s\n", args[0])
		return nil
	},
}
