// Package main provides the CLI entry point for mcprelay, an MCP server
// that mediates between a coding agent and the OpenAI Responses API,
// Gemini/Vertex, and xAI's Grok, handling context packing, session
// continuation, and provider-specific tool-call loops so the calling
// agent only ever sees one dispatch_turn tool.
//
// # Basic usage
//
// Start the server (it speaks MCP over stdio, so it is normally launched
// by a coding agent's own MCP client rather than interactively):
//
//	mcprelay serve --config mcprelay.yaml
//
// # Environment variables
//
// Configuration can be overlaid from the environment; see
// internal/config for the full set. The ones most commonly set:
//
//   - MCPRELAY_OPENAI_API_KEY
//   - MCPRELAY_GEMINI_API_KEY
//   - MCPRELAY_GROK_API_KEY
//   - MCPRELAY_LOG_LEVEL
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached,
// separated from main so tests can exercise it without invoking os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mcprelay",
		Short: "mcprelay - MCP relay between a coding agent and hosted LLM providers",
		Long: `mcprelay mediates between a coding agent speaking MCP over stdio and
three upstream providers: OpenAI's Responses API, Gemini/Vertex, and xAI's
Grok. It packs file context into each turn, maintains per-session
continuation state per provider, and runs the provider<->built-in-tool
loop (project memory search, session attachment search) on the agent's
behalf.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}
