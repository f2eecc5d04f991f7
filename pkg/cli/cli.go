// Package cli provides the command-line interface for web-testee.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "Path to config.yaml (default: ./config.yaml when present)",
		EnvVars: []string{"WEB_TESTEE_CONFIG"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"WEB_TESTEE_VERBOSE"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Write logs to this file instead of stderr",
		EnvVars: []string{"WEB_TESTEE_LOG_FILE"},
	},
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// NewApp builds the application with every command registered.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "web-testee",
		Usage:   "Browser-backed testee for Detox-style test runners",
		Version: Version,
		Description: `web-testee connects to a test runner over WebSocket, opens the app
under test in Chromium and executes the runner's steps against the page.

Examples:
  web-testee run --server ws://localhost:8099 --session-id abc --app-url http://localhost:3000
  web-testee --config e2e/config.yaml run
  web-testee inspect http://localhost:3000 --body`,
		Flags: GlobalFlags,
		Commands: []*cli.Command{
			runCommand,
			inspectCommand,
		},
	}
}
