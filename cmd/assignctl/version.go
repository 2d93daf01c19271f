package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"autoassign/internal/buildinfo"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("assignctl " + buildinfo.String())
		},
	}
}
