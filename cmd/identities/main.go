package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/atelierhub/identity-core/cmd/identities/commands"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "identities",
		Short: "Operator tool for the identity core",
		Long:  "CLI tool for resolving, linking and inspecting canonical users",
	}

	rootCmd.AddCommand(commands.NewResolveCmd())
	rootCmd.AddCommand(commands.NewListCmd())
	rootCmd.AddCommand(commands.NewLinkCmd())
	rootCmd.AddCommand(commands.NewUnlinkCmd())
	rootCmd.AddCommand(commands.NewSetPrimaryCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
