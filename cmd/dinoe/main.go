package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/misc"
	"github.com/baalimago/go_away_boilerplate/pkg/shutdown"

	"github.com/martinemde/dinoe/agentloop"
	"github.com/martinemde/dinoe/config"
	"github.com/martinemde/dinoe/memory"
	"github.com/martinemde/dinoe/skills"
	"github.com/martinemde/dinoe/unifiedllm"
)

const usage = `dinoe - a small agent that reads, writes, runs and remembers

Usage: dinoe [flags]

Flags:
  -config string      Config file to load. (default %v)
  -m string           Run a single turn with this message, print the reply and exit.
  -no-stream          Wait for complete replies instead of streaming them.
  -workspace string   Workspace directory, overriding the config file.

Environment:
  DINOE_*             Overrides a config key, e.g. DINOE_MODEL or DINOE_MAX_ITERATIONS.
  OPENAI_API_KEY etc. Provider API keys. These win over api_key in the config file.
  DEBUG               Set to true for debug logging.

Without -m dinoe starts an interactive session. Type exit, quit or Ctrl+D to leave.
`

type flags struct {
	configPath string
	message    string
	noStream   bool
	workspace  string
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("dinoe", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprintf(fs.Output(), usage, config.DefaultPath()) }
	fs.StringVar(&f.configPath, "config", "", "")
	fs.StringVar(&f.message, "m", "", "")
	fs.BoolVar(&f.noStream, "no-stream", false, "")
	fs.StringVar(&f.workspace, "workspace", "", "")
	err := fs.Parse(args)
	return f, err
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		ancli.Errf("failed to load config: %v\n", err)
		os.Exit(1)
	}
	if f.workspace != "" {
		cfg.Workspace = f.workspace
	}
	if f.noStream {
		cfg.Stream.Enabled = false
	}
	if cfg.LogLevel == "debug" && os.Getenv("DEBUG") == "" {
		os.Setenv("DEBUG", "true")
	}
	ancli.SetupSlog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { shutdown.Monitor(cancel) }()

	c, err := setup(cfg, slog.Default())
	if err != nil {
		ancli.PrintErr(fmt.Sprintf("failed to setup: %v\n", err))
		os.Exit(1)
	}
	defer c.session.Close()

	if f.message != "" {
		err = c.turn(ctx, f.message)
	} else {
		err = c.repl(ctx, os.Stdin)
	}
	if err != nil {
		ancli.PrintErr(fmt.Sprintf("%v\n", err))
		os.Exit(1)
	}
	if misc.Truthy(os.Getenv("DEBUG")) {
		ancli.PrintOK(fmt.Sprintf("session %s closed\n", c.session.ID()))
	}
}

// setup wires the provider, memory, skills, tools and context builder into
// one session rooted at the configured workspace.
func setup(cfg *config.Config, logger *slog.Logger) (*chat, error) {
	if err := os.MkdirAll(cfg.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	client, err := unifiedllm.NewClientFromConfig(cfg.ProviderConfig())
	if err != nil {
		return nil, err
	}
	store := memory.NewStore(cfg.Workspace, memory.WithLogger(logger))
	skillDir := skills.NewDir(cfg.Workspace, logger)

	registry := agentloop.NewToolRegistry()
	env := agentloop.NewLocalExecutionEnvironment(cfg.Workspace)
	agentloop.RegisterCoreTools(registry, env, store, cfg.CoreToolOptions())

	builder := agentloop.NewContextBuilder(cfg.Workspace,
		agentloop.WithContextMemory(store),
		agentloop.WithContextSkills(skillDir),
		agentloop.WithContextTools(registry),
		agentloop.WithRecall(cfg.Memory.RecallLimit, cfg.Memory.MinScore),
		agentloop.WithGitInfo(true),
		agentloop.WithContextLogger(logger),
	)
	session, err := agentloop.NewSession(client, builder, registry, cfg.SessionConfig(),
		agentloop.WithMemory(store),
		agentloop.WithSessionLogger(logger),
		agentloop.WithEventBuffer(1024),
	)
	if err != nil {
		return nil, err
	}
	logger.Debug("session ready",
		"session_id", session.ID(),
		"provider", cfg.Provider,
		"model", cfg.Model,
		"workspace", cfg.Workspace,
		"tools", registry.Names(),
	)
	return newChat(session, os.Stdout, cfg.Stream.Enabled), nil
}
