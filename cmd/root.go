package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "selfie-match",
	Short: "Guest selfie-matching service for client photo galleries",
	Long: `selfie-match is the guest selfie-matching backend of a client
photo gallery platform. Guests upload a selfie and receive the gallery
photos they appear in, backed by a perceptual-hash result cache and a
per-guest sliding-window rate limit in front of the external
face-recognition provider.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
