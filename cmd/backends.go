package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/mapraster/internal/backend"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List renderers in the order they are tried",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, a := range backend.DefaultRegistry().Available(viper.GetStringMapString("backend-path")) {
			status := "not found"
			if a.Available {
				status = "available"
			}
			fmt.Fprintf(out, "%-14s %-10s %s\n", a.Name, status, a.Executable)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}
