package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/ragsync/internal/app"
	"github.com/dshills/ragsync/internal/config"
	"github.com/dshills/ragsync/internal/storage"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "ragsync"
)

// errInvalidConfig is returned by validate after the report has been printed
var errInvalidConfig = errors.New("configuration is invalid")

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := Execute(ctx, app.DefaultRunParams(), Version, Build, ProgramName, args[1:]); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(ctx context.Context, params app.RunParams, version, build, programName string, args []string) error {
	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Document sync and retrieval-augmented generation",
		Long:         "Keeps a vector index and a full-text index in sync with watched directories, and serves retrieval over HTTP, an OpenAI-compatible proxy and MCP.",
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Version}} (build %s, sqlite %s/%s)\n", build, storage.BuildMode, storage.DriverName))
	app.RegisterGlobalFlags(rootCmd.PersistentFlags())

	run := func(cmd app.Command) func(*cobra.Command, []string) error {
		return func(c *cobra.Command, _ []string) error {
			return app.RunWithDeps(ctx, params, cmd, c.Flags(), version)
		}
	}

	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Watch directories and keep both indexes in sync",
		Args:  cobra.NoArgs,
		RunE:  run(app.CommandIndex),
	}
	app.RegisterIndexFlags(indexCmd.Flags())

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search HTTP API",
		Args:  cobra.NoArgs,
		RunE:  run(app.CommandServe),
	}
	app.RegisterServeFlags(serveCmd.Flags())

	proxyCmd := &cobra.Command{
		Use:   "proxy",
		Short: "Serve the OpenAI-compatible RAG proxy",
		Args:  cobra.NoArgs,
		RunE:  run(app.CommandProxy),
	}
	app.RegisterProxyFlags(proxyCmd.Flags())

	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools on stdio",
		Args:  cobra.NoArgs,
		RunE:  run(app.CommandMCP),
	}
	app.RegisterMCPFlags(mcpCmd.Flags())

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and report errors and warnings",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			strict, _ := c.Flags().GetBool("strict")
			settings, err := params.LoadSettings(c.Flags())
			if err != nil {
				return fmt.Errorf("failed to load settings: %w", err)
			}
			report := config.Check(settings, strict)
			report.Print(c.OutOrStdout())
			if !report.OK() {
				return errInvalidConfig
			}
			return nil
		},
	}
	validateCmd.Flags().Bool("strict", false, "Treat warnings as errors")
	// validate accepts every per-command flag so one invocation can check what a command would see
	app.RegisterIndexFlags(validateCmd.Flags())
	app.RegisterServeFlags(validateCmd.Flags())
	app.RegisterProxyFlags(validateCmd.Flags())
	validateCmd.Flags().Bool("mcp-watch", false, "Check settings as the mcp command with --mcp-watch")

	rootCmd.AddCommand(indexCmd, serveCmd, proxyCmd, mcpCmd, validateCmd)
	rootCmd.SetArgs(args)

	return rootCmd.ExecuteContext(ctx)
}
