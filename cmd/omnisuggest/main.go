// Copyright 2025 The omnisuggest Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package main implements the omnisuggest server and CLI [DBG] application.

Note: This is a BETA release. APIs and functionality may rapidly change.

omnisuggest aggregates search suggestions for an address bar: searches the user
issued before, suggestions fetched from the default search engine, and the
exact text typed. Every keystroke yields an ordered list of matches right away,
followed by refined lists as the history lookup and the remote fetch report
back.

# Usage

Start the server with default settings:

	omnisuggest

Use a custom config and enable debug mode:

	omnisuggest -config ./config.toml -d

Run in CLI mode for interactive testing, searching through a keyword engine:

	omnisuggest -c -keyword wikipedia.org

# Configuration

Runtime configuration is managed through a TOML file:

	[provider]
	max_matches = 8
	min_query_interval_ms = 100
	history_max_results = 12
	answer_cache_size = 10

	[transport]
	timeout_ms = 2000
	user_agent = "omnisuggest/0.1"
	max_body_bytes = 524288

	[engines]
	file = "engines.toml"
	default_keyword = ""

	[history]
	file = "history.msgpack"
	max_entries = 5000

	[cli]
	limit = 8
	wait_ms = 1500

The config file is created with defaults if it doesn't exist. Relative engine
and history paths live in the state directory.

# IPC Protocol

The server communicates via MessagePack over stdin/stdout; see package server.

	{"id": "k1", "op": "start", "p": "wea"}

# Command Line Flags

	-config string
	    Path to the config file
	-d  Enable debug mode with detailed logging
	-c  Run in CLI mode instead of server mode
	-history string
	    History snapshot path (overrides the config)
	-engines string
	    Engine list path (overrides the config)
	-keyword string
	    Search through the engine with this keyword (CLI mode)
	-limit int
	    Number of matches to print in CLI mode
	-version
	    Show current version
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/bastiangx/omnisuggest/internal/cli"
	"github.com/bastiangx/omnisuggest/internal/utils"
	"github.com/bastiangx/omnisuggest/pkg/config"
	"github.com/bastiangx/omnisuggest/pkg/engines"
	"github.com/bastiangx/omnisuggest/pkg/history"
	"github.com/bastiangx/omnisuggest/pkg/server"
	"github.com/bastiangx/omnisuggest/pkg/suggest"
	"github.com/bastiangx/omnisuggest/pkg/transport"
)

const (
	Version = "0.1.0-beta"
	AppName = "omnisuggest"
	gh      = "https://github.com/bastiangx/omnisuggest"
)

// sigHandler runs onExit and exits normally on SIGINT or SIGTERM.
func sigHandler(onExit func()) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		fmt.Fprintf(os.Stderr, "\nExiting...\n")
		onExit()
		os.Exit(0)
	}()
}

// main wires the config, stores and provider, then runs the server or the CLI.
func main() {
	defaultConfig := config.DefaultConfig()

	showVersion := flag.Bool("version", false, "Show current version")
	configFile := flag.String("config", "", "Path to the config file")
	debugMode := flag.Bool("d", false, "Toggle debug mode")
	cliMode := flag.Bool("c", false, "Run CLI -- useful for testing and debugging")
	historyFile := flag.String("history", "", "History snapshot path (overrides the config)")
	enginesFile := flag.String("engines", "", "Engine list path (overrides the config)")
	keyword := flag.String("keyword", "", "Search through the engine with this keyword (CLI mode)")
	limit := flag.Int("limit", defaultConfig.CLI.Limit, "Number of matches to print in CLI mode")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *debugMode {
		log.SetLevel(log.DebugLevel)
		log.SetReportTimestamp(true)
	} else {
		log.SetLevel(log.WarnLevel)
	}

	appConfig, configPath, err := config.LoadConfigWithPriority(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Debugf("Using config file: (%s)", config.GetActiveConfigPath(configPath))

	pathResolver := utils.NewPathResolver()
	if *historyFile == "" {
		*historyFile = pathResolver.StatePath(appConfig.History.File)
	}
	if *enginesFile == "" {
		*enginesFile = pathResolver.StatePath(appConfig.Engines.File)
	}

	registry := loadEngines(*enginesFile, appConfig.Engines.DefaultKeyword)
	store := loadHistory(*historyFile, appConfig.History.MaxEntries)
	saveHistory := func() {
		if err := store.Save(*historyFile); err != nil {
			log.Errorf("History not saved: %v", err)
		}
	}
	sigHandler(saveHistory)

	client := transport.NewClient(appConfig.TransportOptions())
	provider := suggest.NewProvider(appConfig.ProviderOptions(), store, client, registry, client)

	// CLI would be mainly used for testing and dbg purposes.
	if *cliMode {
		log.SetReportTimestamp(false)
		log.Debug("Input info:",
			"keyword", *keyword,
			"limit", *limit,
			"waitMs", appConfig.CLI.WaitMs)

		wait := time.Duration(appConfig.CLI.WaitMs) * time.Millisecond
		inputHandler := cli.NewInputHandler(provider, store, *keyword, *limit, wait)
		err := inputHandler.Start(context.Background())
		saveHistory()
		if err != nil {
			log.Fatalf("CLI error: %v", err)
		}
		return
	}

	log.Debug("spawning IPC")
	srv := server.NewServer(provider, store)

	showStartupInfo(registry, store, *historyFile)

	err = srv.Start(context.Background())
	saveHistory()
	if err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}

// loadEngines reads the saved engine list, or seeds it with the prepopulated
// engines on first run.
func loadEngines(path, defaultKeyword string) *engines.Registry {
	var registry *engines.Registry
	if utils.FileExists(path) {
		r, err := engines.LoadRegistry(path)
		if err != nil {
			log.Warnf("Failed to load engines from %s: %v. Using prepopulated engines...", path, err)
		} else if len(r.All()) == 0 {
			log.Warnf("No usable engines in %s. Using prepopulated engines...", path)
		} else {
			registry = r
		}
	}
	if registry == nil {
		registry = engines.NewDefaultRegistry()
		if err := registry.Save(path); err != nil {
			log.Warnf("Could not write engine list to %s: %v", path, err)
		}
	}

	if defaultKeyword != "" {
		if err := registry.SetDefaultKeyword(defaultKeyword); err != nil {
			log.Warnf("Keeping the current default engine: %v", err)
		}
	}
	registry.AddObserver(func() {
		if err := registry.Save(path); err != nil {
			log.Errorf("Engine list not saved: %v", err)
		}
	})
	return registry
}

func loadHistory(path string, maxEntries int) *history.Store {
	store := history.NewStore(maxEntries)
	if err := store.Load(path); err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Debugf("No history at %s yet", path)
		case errors.Is(err, history.ErrBadSnapshot):
			log.Warnf("Ignoring unreadable history at %s: %v", path, err)
		default:
			log.Warnf("Failed to load history: %v", err)
		}
	}
	return store
}

func printVersion() {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    false,
		ReportTimestamp: false,
		Prefix:          "",
	})

	styles := log.DefaultStyles()
	styles.Values["version"] = lipgloss.NewStyle().Bold(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"}).
		Background(lipgloss.AdaptiveColor{Light: "#f2e9e1", Dark: "#26233a"})
	styles.Values["gh"] = lipgloss.NewStyle().Italic(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"})
	logger.SetStyles(styles)

	logger.Print("")
	logger.Print("[ omnisuggest ] Search suggestions as you type")
	logger.Print("", "version", Version)
	logger.Print("")
	logger.Print("use -h or --help to see available options")
	logger.Print("Github Repo", "gh", gh)
}

// showStartupInfo displays some basic info about the init process.
func showStartupInfo(registry *engines.Registry, store *history.Store, historyPath string) {
	pid := os.Getpid()
	currentLevel := log.GetLevel()
	log.SetLevel(log.InfoLevel)

	println("=============")
	println(" omnisuggest ")
	println("=============")
	log.Infof("Version: %s", Version)
	log.Infof("Process ID: [ %d ]", pid)
	if d := registry.Default(); d != nil {
		log.Infof("default engine: %s ( %s )", d.ShortName(), d.Keyword())
	} else {
		log.Warn("default engine: none")
	}
	log.Infof("engines: %d", len(registry.All()))
	log.Infof("history: %d entries ( %s )", store.Len(), historyPath)
	log.Info("status: ready")
	println("=============")
	println("Press Ctrl+C to exit")

	log.SetLevel(currentLevel)
}
