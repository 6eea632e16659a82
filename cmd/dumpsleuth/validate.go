package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dumpsleuth/dumpsleuth/internal/debugger"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate <dump>",
	Short: "Check that a file is a readable minidump",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := debugger.ValidateDump(args[0]); err != nil {
			var verr *debugger.ValidationError
			if errors.As(err, &verr) {
				return fmt.Errorf("invalid dump: %s", verr.Reason)
			}
			return err
		}
		fmt.Printf("%s: valid minidump\n", args[0])
		return nil
	},
}
