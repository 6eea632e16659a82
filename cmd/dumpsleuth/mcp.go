package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dumpsleuth/dumpsleuth/internal/mcp"
)

func init() {
	rootCmd.AddCommand(serveMCPCmd)
}

var serveMCPCmd = &cobra.Command{
	Use:   "serve-mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs dumpsleuth as an MCP (Model Context Protocol) server over stdio.\nExposes tools: dumpsleuth_analyze, dumpsleuth_validate.",
	RunE:  runServeMCP,
}

func runServeMCP(cmd *cobra.Command, args []string) error {
	srv := mcp.New(appCfg, os.Stderr)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "dumpsleuth MCP server running on stdio")
	return srv.Run(ctx)
}
