package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tenzoki/agen/grantmesh/public/orchestrator"
)

var metricsAddr string

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9400", "address the /metrics endpoint is served on")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Hold the mesh open, serving /metrics and a line-delimited query REPL on stdin",
	Long: `serve builds the mesh from --config and keeps it running until a shutdown
signal is received or stdin is closed. Each line read from stdin is treated as a query string
and its JSON response is written to stdout; /metrics is exposed over HTTP
for Prometheus scraping.

Examples:
  meshd serve --config mesh.yaml
  echo "AI funding in the UK" | meshd serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := buildMesh(ctx, configFile, qdrantAddr, redisAddr)
	if err != nil {
		return err
	}
	defer rt.close()

	server := rt.metrics.Serve(metricsAddr)
	log.Printf("meshd: metrics listening on %s", metricsAddr)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		runREPL(ctx, rt.orchestrator)
	}()

	select {
	case sig := <-sigChan:
		log.Printf("meshd: received signal %s, shutting down", sig)
	case <-done:
		log.Printf("meshd: stdin closed, shutting down")
	}
	cancel()
	return nil
}

// runREPL reads one query per line from stdin until EOF or ctx
// cancellation. Each response is
// printed to stdout as a single JSON line, matching the query-log's
// newline-delimited convention.
func runREPL(ctx context.Context, orch *orchestrator.Orchestrator) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		resp, err := orch.Query(ctx, orchestrator.Request{Query: line, MaxResults: 10})
		if err != nil {
			fmt.Fprintf(os.Stderr, "meshd: query error: %v\n", err)
			continue
		}
		data, err := json.Marshal(resp)
		if err != nil {
			fmt.Fprintf(os.Stderr, "meshd: encode response: %v\n", err)
			continue
		}
		fmt.Println(string(data))
	}
}
