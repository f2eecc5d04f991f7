package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/web-testee/pkg/artifacts"
	"github.com/devicelab-dev/web-testee/pkg/clock"
	"github.com/devicelab-dev/web-testee/pkg/config"
	"github.com/devicelab-dev/web-testee/pkg/device"
	"github.com/devicelab-dev/web-testee/pkg/driver"
	"github.com/devicelab-dev/web-testee/pkg/driver/chrome"
	"github.com/devicelab-dev/web-testee/pkg/logger"
	"github.com/devicelab-dev/web-testee/pkg/session"
	"github.com/devicelab-dev/web-testee/pkg/settle"
	"github.com/devicelab-dev/web-testee/pkg/testee"
	"github.com/devicelab-dev/web-testee/pkg/transport"
)

// RecorderExtension is the extension directory name under the home dir.
const RecorderExtension = "recorder"

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Open the app in Chromium and serve a test runner session",
	Description: `Launches Chromium, opens the app URL, connects to the runner and
executes its steps until the runner disconnects or the process is interrupted.

Flags override values from the config file.

Examples:
  web-testee run --server ws://localhost:8099 --session-id abc --app-url http://localhost:3000
  web-testee run --headless --disable-sync`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Usage:   "Runner WebSocket URL (ws:// or wss://)",
			EnvVars: []string{"WEB_TESTEE_SERVER"},
		},
		&cli.StringFlag{
			Name:    "session-id",
			Usage:   "Session id shared with the runner",
			EnvVars: []string{"WEB_TESTEE_SESSION_ID"},
		},
		&cli.StringFlag{
			Name:    "app-url",
			Usage:   "URL of the app under test",
			EnvVars: []string{"WEB_TESTEE_APP_URL"},
		},
		&cli.BoolFlag{
			Name:    "headless",
			Usage:   "Run Chromium without a window",
			EnvVars: []string{"WEB_TESTEE_HEADLESS"},
		},
		&cli.StringFlag{
			Name:    "browser-path",
			Usage:   "Chromium binary (default: auto-detect or download)",
			EnvVars: []string{"WEB_TESTEE_BROWSER"},
		},
		&cli.IntFlag{
			Name:  "width",
			Usage: "Viewport width in CSS pixels",
		},
		&cli.IntFlag{
			Name:  "height",
			Usage: "Viewport height in CSS pixels",
		},
		&cli.StringFlag{
			Name:  "extension-dir",
			Usage: "Recorder extension directory",
		},
		&cli.BoolFlag{
			Name:  "disable-sync",
			Usage: "Do not wait for network and animations before steps",
		},
		&cli.BoolFlag{
			Name:  "track-timers",
			Usage: "Also wait for pending JS timers before steps",
		},
		&cli.StringSliceFlag{
			Name:  "url-blacklist",
			Usage: "Request URL patterns ignored by synchronization",
		},
		&cli.IntFlag{
			Name:  "matcher-timeout",
			Usage: "Element lookup timeout in ms",
		},
		&cli.StringFlag{
			Name:  "artifacts-dir",
			Usage: "Directory for screenshots",
		},
	},
	Action: runServe,
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if c.IsSet("server") {
		cfg.Server = c.String("server")
	}
	if c.IsSet("session-id") {
		cfg.SessionID = c.String("session-id")
	}
	if c.IsSet("app-url") {
		cfg.BinaryPath = "/" + c.String("app-url")
	}
	if c.IsSet("headless") {
		cfg.Device.Headless = c.Bool("headless")
	}
	if c.IsSet("browser-path") {
		cfg.Device.BrowserPath = c.String("browser-path")
	}
	if c.IsSet("width") {
		cfg.Device.DefaultViewport.Width = c.Int("width")
	}
	if c.IsSet("height") {
		cfg.Device.DefaultViewport.Height = c.Int("height")
	}
	if c.IsSet("extension-dir") {
		cfg.Device.ExtensionDir = c.String("extension-dir")
	}
	if c.IsSet("disable-sync") {
		enabled := !c.Bool("disable-sync")
		cfg.Synchronization.Enabled = &enabled
	}
	if c.IsSet("track-timers") {
		cfg.Synchronization.TrackTimers = c.Bool("track-timers")
	}
	if c.IsSet("url-blacklist") {
		cfg.Synchronization.URLBlacklist = c.StringSlice("url-blacklist")
	}
	if c.IsSet("matcher-timeout") {
		cfg.Matcher.TimeoutMs = c.Int("matcher-timeout")
	}
	if c.IsSet("artifacts-dir") {
		cfg.Artifacts.Dir = c.String("artifacts-dir")
	}
	if c.IsSet("log-file") {
		cfg.LogFile = c.String("log-file")
	}

	if cfg.Device.ExtensionDir == "" {
		if dir := config.GetExtensionDir(RecorderExtension); dirExists(dir) {
			cfg.Device.ExtensionDir = dir
		}
	}
	return cfg, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// setupLogging routes logs to the configured file, or stderr.
func setupLogging(c *cli.Context, cfg *config.Config) error {
	if cfg.LogFile != "" {
		if err := logger.Init(cfg.LogFile); err != nil {
			return err
		}
	} else {
		logger.InitWriter(os.Stderr)
	}
	logger.SetVerbose(c.Bool("verbose"))
	return nil
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := setupLogging(c, cfg); err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	// Handle SIGINT/SIGTERM so the browser is closed on Ctrl+C or kill
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("Received signal %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	dial := func(ctx context.Context) (transport.Channel, error) {
		return transport.Dial(ctx, cfg.Server, transport.DefaultDialOptions)
	}
	return serve(ctx, cfg, chrome.NewLauncher(), dial)
}

// serve wires the testee components for cfg and blocks until the session ends.
func serve(ctx context.Context, cfg *config.Config, launcher driver.Launcher, dial func(context.Context) (transport.Channel, error)) error {
	engine := settle.NewEngine(clock.Real())
	engine.SetEnabled(cfg.Synchronization.IsEnabled())
	engine.SetTrackTimers(cfg.Synchronization.TrackTimers)

	sess := session.New(cfg.SessionID)
	sess.SetPermissions(cfg.Permissions)

	dev := device.New(launcher, sess, engine, device.Options{
		Headless:     cfg.Device.Headless,
		Devtools:     cfg.Device.Devtools,
		BrowserPath:  cfg.Device.BrowserPath,
		Viewport:     driver.Viewport{Width: cfg.Device.DefaultViewport.Width, Height: cfg.Device.DefaultViewport.Height},
		ExtensionDir: cfg.Device.ExtensionDir,
		TrackTimers:  cfg.Synchronization.TrackTimers,
		BinaryPath:   cfg.BinaryPath,
	})
	if err := dev.SetURLBlacklist(cfg.Synchronization.URLBlacklist); err != nil {
		return err
	}

	plugin := artifacts.New(sess, artifacts.Options{
		Dir:          cfg.Artifacts.Dir,
		DownloadsDir: config.GetDownloadsDir(),
	})
	dev.SetRecorder(plugin)

	logger.Info("Launching %s", cfg.AppURL())
	if err := dev.LaunchApp(ctx, device.LaunchArgs{}); err != nil {
		return fmt.Errorf("launch app: %w", err)
	}
	defer func() {
		if err := dev.Cleanup(context.Background()); err != nil {
			logger.Warn("Cleanup failed: %v", err)
		}
	}()

	ch, err := dial(ctx)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Server, err)
	}
	defer ch.Close()

	t := testee.New(ch, dev, engine, testee.Options{
		LookupTimeout: time.Duration(cfg.Matcher.TimeoutMs) * time.Millisecond,
		Artifacts:     plugin,
	})
	if err := t.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Session %s finished", sess.ID())
	return nil
}
