package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/boardsmith/tui/internal/app"
	"github.com/boardsmith/tui/internal/config"
	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	serverURL := flag.String("url", "", "Build server base URL (overrides config)")
	projectPath := flag.String("project", "", "Project path to watch (overrides config)")
	token := flag.String("token", "", "Auth token (overrides config)")
	logFile := flag.String("logfile", "", "Write internal logs to this file instead of discarding them")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *serverURL != "" {
		cfg.Server.URL = *serverURL
	}
	if *projectPath != "" {
		cfg.Server.ProjectPath = *projectPath
	}
	if *token != "" {
		cfg.Server.Token = *token
	}
	if *logFile == "" {
		*logFile = cfg.UI.LogFile
	}

	// log.Printf output would corrupt the alternate screen, so route it to a
	// file or drop it.
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logfile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		log.SetOutput(f)
	} else {
		log.SetOutput(io.Discard)
	}

	m := app.New(cfg)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
