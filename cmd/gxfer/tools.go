package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/franksops/gotransfer/tool"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the registered transfer tools",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range tool.Names() {
			marker := " "
			if cfg != nil && cfg.Transfertool == name {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
		}
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
