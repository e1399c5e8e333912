package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	_ = godotenv.Load()

	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "rbctl",
		Short: "Resource builder CLI",
		Long: `Command line interface for the resource tree.

Creates resources and files with the resource builder and reads them back.
The repository and storage backend are taken from DATABASE_URL and
STORAGE_URL; both default to in-memory stores that live for one invocation.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(NewPutCommand())
	rootCmd.AddCommand(NewFileCommand())
	rootCmd.AddCommand(NewGetCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewTreeCommand())
	rootCmd.AddCommand(NewRemoveCommand())

	return rootCmd
}
