package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tenzoki/agen/grantmesh/public/orchestrator"
)

var (
	maxResults int
	silos      []string
	domains    []string
)

func init() {
	queryCmd.Flags().IntVar(&maxResults, "max-results", 10, "maximum grants to return")
	queryCmd.Flags().StringSliceVar(&silos, "silos", nil, "restrict to these silos (e.g. UK,EU)")
	queryCmd.Flags().StringSliceVar(&domains, "domains", nil, "restrict to these domains (e.g. innovate_uk,nihr)")
}

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Run a single query against the mesh and print its JSON response",
	Long: `query builds the mesh from --config, issues one query, prints the JSON
response to stdout, and exits.

Examples:
  meshd query "AI funding for SMEs"
  meshd query --silos UK "clinical trial support" --max-results 5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := buildMesh(ctx, configFile, qdrantAddr, redisAddr)
	if err != nil {
		return err
	}
	defer rt.close()

	resp, err := rt.orchestrator.Query(ctx, orchestrator.Request{
		Query:      strings.Join(args, " "),
		MaxResults: maxResults,
		Filters:    orchestrator.Filters{Silos: silos, Domains: domains},
	})
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
