// Command server runs the interview-practice session API.
//
// Usage:
//
//	server serve [--in-memory]   run the HTTP API
//	server ingest personas.yaml  load a persona catalog into SQLite
//	server token <user-id>       mint a bearer token for local testing
package main

import (
	"log"

	"github.com/spf13/cobra"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	rootCmd := &cobra.Command{
		Use:           "server",
		Short:         "Interview-practice session API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		newServeCmd(),
		newIngestCmd(),
		newTokenCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
