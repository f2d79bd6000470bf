package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the execution coordinator loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Run the policy gate and, on admission, the coordinator",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Gate(cmd.Context())
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run the signal generator loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Generate(cmd.Context())
	},
}
