package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kestrelhq/tend/internal/config"
	"github.com/kestrelhq/tend/internal/db"
	"github.com/kestrelhq/tend/internal/errors"
	"github.com/kestrelhq/tend/internal/focus"
	"github.com/kestrelhq/tend/internal/llm"
	"github.com/kestrelhq/tend/internal/mcp"
	"github.com/kestrelhq/tend/internal/vault"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"focus": true, "scan": true, "reconcile": true,
	"protocols": true, "chat": true, "approvals": true,
	"conversations": true, "serve": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   _                _
  | |_ ___ _ _  __| |
  |  _/ -_) ' \/ _' |
   \__\___|_||_\__,_|

  GTD coaching over a folder of markdown

  Usage: tend <command> [options]
         tend --help

  MCP server mode requires piped input.`)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before any setup
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	env, err := buildEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer env.db.Close()

	if isCLIMode() {
		app := newCLIApp(env)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'tend --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default)
	if err := mcp.Run(env.store, env.vault, env.cfg, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// buildEnv wires the shared dependencies: config, database, vault, and the
// focus store. The model client is created on demand by commands that talk
// to the model.
func buildEnv() (*cliEnv, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("could not determine home directory: %w", err)
	}
	baseDir := filepath.Join(homeDir, ".tend")

	cwd, err := os.Getwd()
	if err != nil {
		cwd = baseDir
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.VaultPath == "" {
		return nil, errors.NewConfiguration("vault_path is not set; edit " + filepath.Join(baseDir, "config.json"))
	}

	database, err := db.Init(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)

	v, err := vault.Open(cfg.VaultPath)
	if err != nil {
		database.Close()
		return nil, err
	}

	store, err := focus.NewStore(database, v, cfg)
	if err != nil {
		database.Close()
		return nil, err
	}

	return &cliEnv{
		db:    database,
		cfg:   cfg,
		vault: v,
		store: store,
	}, nil
}

// modelClient builds the transport, or nil when no API key is configured.
// The coach surfaces the missing key inside the conversation.
func (e *cliEnv) modelClient() llm.Client {
	key := e.cfg.APIKey()
	if key == "" {
		return nil
	}
	return llm.NewAnthropicClient(e.cfg.APIBaseURL, key)
}
