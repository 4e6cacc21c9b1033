// Package main implements the vidctl CLI for inspecting a vidsight server.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL of the vidsight HTTP server
	serverURL string
	// userID is sent as X-User-ID on every request
	userID string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vidctl",
	Short: "CLI for vidsight server operations",
	Long: `vidctl is a command-line interface for the vidsight HTTP server.
It checks server health, creates sessions, uploads chunks and shows
analysis results.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("VIDSIGHT_URL", "http://localhost:8080"), "vidsight server URL")
	rootCmd.PersistentFlags().StringVar(&userID, "user", os.Getenv("VIDSIGHT_USER"), "caller identity sent as X-User-ID")
	rootCmd.AddCommand(healthCmd, sessionCmd, sessionsCmd, recordsCmd, createCmd, uploadCmd,
		titleCmd, deleteCmd, configCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
