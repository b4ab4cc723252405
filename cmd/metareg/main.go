package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "metareg",
	Short: "Diffeomorphic metamorphosis image registration",
	Long: `metareg deforms a moving image onto a fixed image along a smooth
time-varying velocity field, optionally estimating an intensity bias that
accounts for appearance changes the deformation cannot explain.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
