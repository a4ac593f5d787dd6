// Package main implements meshd, the grant-search mesh's CLI entrypoint.
// It wires the configuration, embedder pool, domain agents, and
// orchestrator together, then serves either a one-shot query or a
// REPL/long-running server — grounded on fyrsmithlabs-contextd's cobra
// command layout (cmd/ctxd/main.go).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	qdrantAddr string
	redisAddr  string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "meshd:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "meshd",
	Short: "CLI for the grant-search federated agent mesh",
	Long: `meshd wires a YAML configuration, an embedder pool, the Innovate UK /
NIHR / Horizon Europe domain agents, and the query orchestrator into one
process. Run "meshd serve" to hold the mesh open for a REPL of queries,
or "meshd query" for a single request.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "mesh.yaml", "path to the mesh's YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&qdrantAddr, "qdrant-addr", "", "Qdrant gRPC address (host:port); empty uses the in-process memory collection")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", "", "Redis address for the ResultCache backend; empty uses the in-process sharded map")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
}
