// Package main provides the CLI entry point for the tasker agent engine.
//
// Tasker turns conversational requests into tool-backed agent runs against
// LLM decision backends (Anthropic, OpenAI), with per-chat working memory,
// conversation history, and retryable saved commands.
//
// # Basic Usage
//
// Start the server:
//
//	tasker serve --config tasker.yaml
//
// Talk to the engine from a terminal:
//
//	tasker chat --config tasker.yaml --chat-id local
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//
// Keys referenced from the config file as ${ANTHROPIC_API_KEY} are
// expanded at load time.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Configure structured logging with JSON output for production parsing.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tasker",
		Short: "Tasker - conversational agent execution engine",
		Long: `Tasker executes conversational automation requests through LLM decision
backends with tool calling, multi-step plans, per-chat working memory, and
retryable saved commands.

Supported decision backends: Anthropic (Claude), OpenAI (GPT)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildConfigSchemaCmd(),
	)

	return rootCmd
}
