package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/web-testee/pkg/config"
	"github.com/devicelab-dev/web-testee/pkg/core"
	"github.com/devicelab-dev/web-testee/pkg/driver"
	"github.com/devicelab-dev/web-testee/pkg/driver/mock"
	"github.com/devicelab-dev/web-testee/pkg/transport"
)

func TestNewApp_Commands(t *testing.T) {
	app := NewApp()

	names := map[string]bool{}
	for _, cmd := range app.Commands {
		names[cmd.Name] = true
	}
	for _, want := range []string{"run", "inspect"} {
		if !names[want] {
			t.Errorf("expected command %q to be registered", want)
		}
	}
}

// captureConfig runs the run command's flag set and returns the loaded config.
func captureConfig(t *testing.T, args ...string) *config.Config {
	t.Helper()
	var got *config.Config
	app := &cli.App{
		Name:  "test-app",
		Flags: GlobalFlags,
		Commands: []*cli.Command{{
			Name:  "run",
			Flags: runCommand.Flags,
			Action: func(c *cli.Context) error {
				cfg, err := loadConfig(c)
				got = cfg
				return err
			},
		}},
	}
	if err := app.Run(append([]string{"test-app"}, args...)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return got
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := writeConfig(t, `
server: ws://runner:8099
sessionId: from-file
binaryPath: /http://localhost:3000
`)
	cfg := captureConfig(t, "--config", path, "run")

	if cfg.Server != "ws://runner:8099" {
		t.Errorf("expected server from file, got %q", cfg.Server)
	}
	if cfg.SessionID != "from-file" {
		t.Errorf("expected sessionId from file, got %q", cfg.SessionID)
	}
	if cfg.AppURL() != "http://localhost:3000" {
		t.Errorf("expected app URL http://localhost:3000, got %q", cfg.AppURL())
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	path := writeConfig(t, `
server: ws://runner:8099
sessionId: from-file
device:
  defaultViewport: {width: 1024, height: 768}
`)
	cfg := captureConfig(t, "--config", path, "--log-file", "/tmp/testee.log", "run",
		"--session-id", "from-flag",
		"--app-url", "http://localhost:4000",
		"--headless",
		"--width", "390",
		"--disable-sync",
		"--track-timers",
		"--url-blacklist", `.*analytics.*`,
		"--matcher-timeout", "1500",
	)

	if cfg.Server != "ws://runner:8099" {
		t.Errorf("server should come from file, got %q", cfg.Server)
	}
	if cfg.SessionID != "from-flag" {
		t.Errorf("expected session id from flag, got %q", cfg.SessionID)
	}
	if cfg.AppURL() != "http://localhost:4000" {
		t.Errorf("expected app URL from flag, got %q", cfg.AppURL())
	}
	if !cfg.Device.Headless {
		t.Error("expected headless")
	}
	if cfg.Device.DefaultViewport.Width != 390 || cfg.Device.DefaultViewport.Height != 768 {
		t.Errorf("expected viewport 390x768, got %+v", cfg.Device.DefaultViewport)
	}
	if cfg.Synchronization.IsEnabled() {
		t.Error("expected synchronization disabled")
	}
	if !cfg.Synchronization.TrackTimers {
		t.Error("expected timer tracking")
	}
	if len(cfg.Synchronization.URLBlacklist) != 1 || cfg.Synchronization.URLBlacklist[0] != ".*analytics.*" {
		t.Errorf("unexpected blacklist %v", cfg.Synchronization.URLBlacklist)
	}
	if cfg.Matcher.TimeoutMs != 1500 {
		t.Errorf("expected matcher timeout 1500, got %d", cfg.Matcher.TimeoutMs)
	}
	if cfg.LogFile != "/tmp/testee.log" {
		t.Errorf("expected log file from global flag, got %q", cfg.LogFile)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	app := &cli.App{
		Name:  "test-app",
		Flags: GlobalFlags,
		Commands: []*cli.Command{{
			Name: "run",
			Action: func(c *cli.Context) error {
				_, err := loadConfig(c)
				return err
			},
		}},
	}
	err := app.Run([]string{"test-app", "--config", filepath.Join(t.TempDir(), "absent.yaml"), "run"})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "load config") {
		t.Errorf("expected load config error, got %v", err)
	}
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "sessionId: abc\n")
	app := &cli.App{
		Name:     "test-app",
		Flags:    GlobalFlags,
		Commands: []*cli.Command{runCommand},
	}

	err := app.Run([]string{"test-app", "--config", path, "run"})
	if !errors.Is(err, core.ErrMissingRequired) {
		t.Errorf("expected ErrMissingRequired, got %v", err)
	}
}

func serveConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server = "ws://runner.test"
	cfg.SessionID = "s1"
	cfg.BinaryPath = "/http://app.test"
	cfg.Artifacts.Dir = t.TempDir()
	return cfg
}

func TestServe_LoginThenChannelClose(t *testing.T) {
	cfg := serveConfig(t)
	launcher := mock.NewLauncher(mock.Config{})
	ch := transport.NewMemory()

	done := make(chan error, 1)
	go func() {
		done <- serve(context.Background(), cfg, launcher, func(context.Context) (transport.Channel, error) {
			return ch, nil
		})
	}()

	sent := ch.WaitSent(1, 2*time.Second)
	if len(sent) == 0 {
		t.Fatal("expected login message")
	}
	if sent[0].Type != transport.TypeLogin {
		t.Fatalf("expected login, got %s", sent[0].Type)
	}
	var params map[string]string
	if err := json.Unmarshal(sent[0].Params, &params); err != nil {
		t.Fatalf("decode login params: %v", err)
	}
	if params["sessionId"] != "s1" || params["role"] != "testee" {
		t.Errorf("unexpected login params %v", params)
	}

	ch.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after channel close")
	}

	b := launcher.Last()
	if b == nil {
		t.Fatal("expected a browser launch")
	}
	calls := b.MockPage().Calls()
	if len(calls) == 0 || calls[0] != "navigate:http://app.test" {
		t.Errorf("expected app opened first, got %v", calls)
	}
	if !b.Closed() {
		t.Error("expected browser closed on exit")
	}
}

func TestServe_LaunchError(t *testing.T) {
	cfg := serveConfig(t)
	launcher := mock.NewLauncher(mock.Config{LaunchErr: errors.New("no chromium")})
	dialed := false

	err := serve(context.Background(), cfg, launcher, func(context.Context) (transport.Channel, error) {
		dialed = true
		return transport.NewMemory(), nil
	})
	if err == nil || !strings.Contains(err.Error(), "launch app") {
		t.Fatalf("expected launch error, got %v", err)
	}
	if dialed {
		t.Error("should not dial when launch fails")
	}
}

func TestServe_DialErrorClosesBrowser(t *testing.T) {
	cfg := serveConfig(t)
	launcher := mock.NewLauncher(mock.Config{})

	err := serve(context.Background(), cfg, launcher, func(context.Context) (transport.Channel, error) {
		return nil, errors.New("connection refused")
	})
	if err == nil || !strings.Contains(err.Error(), "connect to ws://runner.test") {
		t.Fatalf("expected dial error, got %v", err)
	}
	if !launcher.Last().Closed() {
		t.Error("expected browser closed after dial failure")
	}
}

func TestServe_InvalidBlacklist(t *testing.T) {
	cfg := serveConfig(t)
	cfg.Synchronization.URLBlacklist = []string{"("}

	err := serve(context.Background(), cfg, mock.NewLauncher(mock.Config{}), func(context.Context) (transport.Channel, error) {
		t.Error("should not dial")
		return nil, nil
	})
	if err == nil {
		t.Fatal("expected error for invalid blacklist pattern")
	}
}

type fixedLauncher struct {
	browser driver.Browser
}

func (l fixedLauncher) Launch(context.Context, driver.LaunchOptions) (driver.Browser, error) {
	return l.browser, nil
}

func TestInspect_PrintsTestIDs(t *testing.T) {
	page := mock.NewPage(driver.Viewport{Width: 800, Height: 600})
	page.IDs = []string{"login", "password"}
	page.Body = `<body><input data-testid="login"></body>`
	b := mock.NewBrowser(page)

	var out bytes.Buffer
	err := inspect(context.Background(), &out, fixedLauncher{browser: b}, driver.LaunchOptions{}, "http://app.test", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text := out.String()
	for _, want := range []string{"2 test id(s) on http://app.test", "  login\n", "  password\n", `data-testid="login"`} {
		if !strings.Contains(text, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, text)
		}
	}
	if !b.Closed() {
		t.Error("expected browser closed after inspect")
	}
}

func TestInspect_NavigateError(t *testing.T) {
	page := mock.NewPage(driver.Viewport{Width: 800, Height: 600})
	page.NavigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")

	var out bytes.Buffer
	err := inspect(context.Background(), &out, fixedLauncher{browser: mock.NewBrowser(page)}, driver.LaunchOptions{}, "http://nowhere.test", false)
	if err == nil || !strings.Contains(err.Error(), "navigate to http://nowhere.test") {
		t.Fatalf("expected navigate error, got %v", err)
	}
}

func TestInspectCommand_RequiresURL(t *testing.T) {
	app := &cli.App{
		Name:     "test-app",
		Commands: []*cli.Command{inspectCommand},
	}
	if err := app.Run([]string{"test-app", "inspect"}); err == nil {
		t.Error("expected error without URL")
	}
}
