// Package cmd wires the application commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "casadex",
	Short: "Casadex - self-syncing real estate knowledge base",
	Long: `Casadex keeps a vector knowledge base in sync with a folder of
listing documents (spreadsheets, brochures, notes) and answers
questions about them over an HTTP chat API.

Run 'casadex serve' to start the server, or 'casadex ask' for a
one-off question from the terminal.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
