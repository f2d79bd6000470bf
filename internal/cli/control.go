package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dyzen-trader/internal/storage"
)

var killSwitchCmd = &cobra.Command{
	Use:       "kill-switch <on|off>",
	Short:     "Arm or disarm the persisted kill switch",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "on":
			return getApp().SetKillSwitch(cmd.Context(), true)
		case "off":
			return getApp().SetKillSwitch(cmd.Context(), false)
		default:
			return fmt.Errorf("argument must be on or off, got %q", args[0])
		}
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Set the system status to PAUSED",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetStatus(cmd.Context(), storage.StatusPaused)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Set the system status back to RUNNING",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetStatus(cmd.Context(), storage.StatusRunning)
	},
}
