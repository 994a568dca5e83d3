package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/rumeur/analysis"
	"github.com/hazyhaar/rumeur/logbus"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <topic>",
	Short: "Run one analysis and print the report paths",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel, os.Stderr)

		errOut := cmd.ErrOrStderr()
		hide := cfg.HideMCPLogs()
		progress := logbus.PublisherFunc(func(msg string) {
			if hide && !logbus.HideMCP()(msg) {
				return
			}
			fmt.Fprintln(errOut, msg)
		})

		pipe, err := analysis.Build(cfg, analysis.Deps{Log: progress, Logger: logger})
		if err != nil {
			return fmt.Errorf("build pipeline: %w", err)
		}
		defer pipe.Close()

		res, err := pipe.Run(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "id:       %s\n", res.ID)
		fmt.Fprintf(out, "mode:     %s\n", res.Mode)
		fmt.Fprintf(out, "provider: %s (%d/%d pages read)\n", res.Provider, res.Fetched, res.Total)
		fmt.Fprintf(out, "markdown: %s\n", res.MarkdownPath)
		fmt.Fprintf(out, "pdf:      %s\n", res.PDFPath)
		if res.Fallback != "" {
			fmt.Fprintf(out, "fallback: %s\n", res.Fallback)
		}
		if res.Notice != "" {
			fmt.Fprintf(out, "notice:   %s\n", res.Notice)
		}
		return nil
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the rumeur_analyze tool over MCP stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// stdout carries the protocol.
		logger := newLogger(cfg.LogLevel, os.Stderr)

		pipe, err := analysis.Build(cfg, analysis.Deps{Logger: logger})
		if err != nil {
			return fmt.Errorf("build pipeline: %w", err)
		}
		defer pipe.Close()

		srv := mcp.NewServer(&mcp.Implementation{Name: "rumeur", Version: "1.0.0"}, nil)
		pipe.RegisterMCP(srv)
		logger.Info("mcp stdio server starting")
		return srv.Run(cmd.Context(), &mcp.StdioTransport{})
	},
}
