// Package main provides the graphdoctor entry point: an HTTP diagnostics
// server, a stdio MCP server, and a pattern registry linter.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"graphdoctor/src/config"
	"graphdoctor/src/patterns"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "graphdoctor",
	Short: "Runtime diagnostics companion for node-graph execution hosts",
	Long: `Graphdoctor watches a node-graph host's console stream, assembles
tracebacks into error reports, classifies them against a pattern registry,
and escalates sanitized failures to an OpenAI-compatible model endpoint
on demand.

Console lines are read from stdin in serve mode; diagnostics are exposed
over an HTTP API and, separately, over a stdio MCP server.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture pipeline and HTTP API, reading console lines from stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServe(cfg, debug)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runMCP(cfg)
	},
}

var checkPatternsCmd = &cobra.Command{
	Use:   "check-patterns [file]",
	Short: "Validate a pattern registry file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := patterns.LoadFile(args[0])
		if err != nil {
			return fmt.Errorf("registry invalid: %w", err)
		}
		fmt.Printf("ok: %d patterns, version %d\n", reg.Len(), reg.Version())
		return nil
	},
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgPath)
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to JSON config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, mcpCmd, checkPatternsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
