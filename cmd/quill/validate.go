package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			result := a.cfg.Check()

			fields := a.cfg.StatusFields()
			enc := zapcore.NewMapObjectEncoder()
			for _, f := range fields {
				f.AddTo(enc)
			}
			for _, f := range fields {
				fmt.Fprintf(out, "%-20s %v\n", f.Key, enc.Fields[f.Key])
			}

			for _, w := range result.Warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(out, "error: %s\n", e)
			}
			if result.HasErrors() {
				return fmt.Errorf("configuration has %d error(s)", len(result.Errors))
			}
			fmt.Fprintln(out, "Configuration is valid")
			return nil
		},
	}
}
