package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/ragsync/internal/config"
	"github.com/dshills/ragsync/internal/mcp"
	"github.com/dshills/ragsync/internal/retriever"
	"github.com/dshills/ragsync/internal/searchapi"
)

// Command names a long-running mode of the binary
type Command string

const (
	CommandIndex Command = "index"
	CommandServe Command = "serve"
	CommandProxy Command = "proxy"
	CommandMCP   Command = "mcp"
)

// Env is what a command receives once settings are loaded and logging is set up
type Env struct {
	Settings *config.Settings
	Logger   *slog.Logger
	Version  string
}

// CommandFunc runs one command until ctx is cancelled
type CommandFunc func(ctx context.Context, env Env) error

// RunParams contains dependencies for the run function
type RunParams struct {
	LoadSettings  func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings func(*config.Settings) error
	Commands      map[Command]CommandFunc
	LogOutput     io.Writer // Defaults to stderr; stdout is reserved for MCP
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:  config.LoadSettingsWithFlags,
		ValidSettings: config.ValidateSettings,
		Commands: map[Command]CommandFunc{
			CommandIndex: RunIndex,
			CommandServe: RunServe,
			CommandProxy: RunProxy,
			CommandMCP:   RunMCP,
		},
	}
}

// RunWithDeps loads and validates settings, configures logging and runs cmd
func RunWithDeps(ctx context.Context, params RunParams, cmd Command, flags *pflag.FlagSet, version string) error {
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if err := params.ValidSettings(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	run, ok := params.Commands[cmd]
	if !ok {
		return fmt.Errorf("unknown command %q", cmd)
	}

	out := params.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := config.NewLogger(settings.Log, out)
	slog.SetDefault(logger)

	logger.Info("Starting ragsync", "command", string(cmd), "version", version)
	config.LogWithLogger(settings, logger)

	err = run(ctx, Env{Settings: settings, Logger: logger, Version: version})
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err == nil {
		logger.Info("Stopped", "command", string(cmd))
	}
	return err
}

func withStores(s *config.Settings, logger *slog.Logger, fn func(*Stores) error) error {
	st, err := OpenStores(s)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Failed to close stores", "error", err)
		}
	}()
	return fn(st)
}

// RunIndex runs the sync engine
func RunIndex(ctx context.Context, env Env) error {
	return withStores(env.Settings, env.Logger, func(st *Stores) error {
		svc, err := NewIndexService(env.Settings, st, env.Logger)
		if err != nil {
			return err
		}
		env.Logger.Info("Watching", "paths", env.Settings.Indexer.WatchPaths, "poll", env.Settings.Indexer.Poll)
		return svc.Run(ctx)
	})
}

// RunServe runs the search HTTP API over the local stores
func RunServe(ctx context.Context, env Env) error {
	s := env.Settings
	return withStores(s, env.Logger, func(st *Stores) error {
		r := retriever.New(st.Vectors, st.FullText, st.Embedder, env.Logger)
		srv, err := NewHTTPServer(s.Search.Host, s.Search.Port, searchapi.New(r, r, env.Logger), s.Auth)
		if err != nil {
			return err
		}
		return ServeHTTP(ctx, srv, env.Logger)
	})
}

// RunProxy runs the OpenAI-compatible RAG proxy. Retrieval is local or goes
// through the remote search service depending on search.mode.
func RunProxy(ctx context.Context, env Env) error {
	s := env.Settings
	start := func(st *Stores) error {
		searcher, err := NewSearcher(s, st, env.Logger)
		if err != nil {
			return err
		}
		p := NewProxy(s, searcher, env.Version, env.Logger)
		srv, err := NewHTTPServer(s.Proxy.Host, s.Proxy.Port, p, s.Auth)
		if err != nil {
			return err
		}
		return ServeHTTP(ctx, srv, env.Logger)
	}
	if s.Search.Mode == config.SearchModeRemote {
		return start(nil)
	}
	return withStores(s, env.Logger, start)
}

// RunMCP serves the MCP tools on stdio. With mcp.watch the sync engine runs
// in the same process and the index tools are backed by it.
func RunMCP(ctx context.Context, env Env) error {
	s := env.Settings
	if s.Search.Mode == config.SearchModeRemote && !s.MCP.Watch {
		searcher, err := NewSearcher(s, nil, env.Logger)
		if err != nil {
			return err
		}
		return serveMCP(ctx, env, mcp.Deps{Searcher: searcher, Logger: env.Logger})
	}

	return withStores(s, env.Logger, func(st *Stores) error {
		searcher, err := NewSearcher(s, st, env.Logger)
		if err != nil {
			return err
		}
		deps := mcp.Deps{Searcher: searcher, Logger: env.Logger}
		if !s.MCP.Watch {
			return serveMCP(ctx, env, deps)
		}

		svc, err := NewIndexService(s, st, env.Logger)
		if err != nil {
			return err
		}
		deps.Indexer, deps.Pool, deps.Roots = svc.Indexer(), svc.Pool(), absPaths(s.Indexer.WatchPaths)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return svc.Run(gctx) })
		g.Go(func() error {
			err := serveMCP(gctx, env, deps)
			if err == nil {
				// Client hung up; stop the engine too.
				err = context.Canceled
			}
			return err
		})
		return g.Wait()
	})
}

func serveMCP(ctx context.Context, env Env, deps mcp.Deps) error {
	srv, err := mcp.NewServer(deps, env.Settings.MCP.Name, env.Version)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	return srv.Serve(ctx)
}

// absPaths resolves watch roots; unresolvable entries are kept as given
func absPaths(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		out[i] = abs
	}
	return out
}
