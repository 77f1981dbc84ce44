package cmd

import (
	"fmt"

	"github.com/edgelesssys/go-tdx-attestation/tdx"
	"github.com/spf13/cobra"
)

func newPlatformCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "platform",
		Short: "Platform related commands",
	}
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	cmd.AddCommand(
		&cobra.Command{
			Use:   "name",
			Short: "Print the platform name",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), platform())
			},
		},
		&cobra.Command{
			Use:   "is-tdx-available",
			Short: "Check if the platform is a TDX guest",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "TDX available: %t\n", platform() == tdx.PlatformName)
			},
		},
	)
	return cmd
}
