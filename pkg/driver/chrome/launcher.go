// Package chrome implements the driver surface on Chromium through go-rod.
package chrome

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"go.uber.org/zap"

	"github.com/devicelab-dev/web-testee/pkg/core"
	"github.com/devicelab-dev/web-testee/pkg/driver"
	"github.com/devicelab-dev/web-testee/pkg/logger"
)

// ToolbarSize is the height reserved for the automation and recorder bars.
const ToolbarSize = 50

// CaptureSourceName is the desktop capture source the recorder extension picks.
const CaptureSourceName = "puppetcam"

var (
	_ driver.Launcher = (*Launcher)(nil)
	_ driver.Browser  = (*Browser)(nil)
	_ driver.Page     = (*Page)(nil)
	_ driver.Element  = (*Element)(nil)
)

// Launcher starts a local Chromium with go-rod's launcher.
type Launcher struct {
	log *zap.SugaredLogger
}

// NewLauncher creates a Launcher.
func NewLauncher() *Launcher {
	return &Launcher{log: logger.Named("chrome")}
}

// Flags returns the command-line switches for a launch, excluding headless
// and binary selection which the launcher sets itself.
func Flags(opts driver.LaunchOptions) map[flags.Flag][]string {
	set := map[flags.Flag][]string{
		"no-sandbox":                         nil,
		"enable-usermedia-screen-capturing":  nil,
		"allow-http-screen-capture":          nil,
		"allow-file-access-from-files":       nil,
		"auto-select-desktop-capture-source": {CaptureSourceName},
	}
	if opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
		set["window-size"] = []string{fmt.Sprintf("%d,%d", opts.Viewport.Width, opts.Viewport.Height+ToolbarSize*2)}
	}
	if opts.ExtensionDir != "" {
		set["load-extension"] = []string{opts.ExtensionDir}
		set["disable-extensions-except"] = []string{opts.ExtensionDir}
	}
	return set
}

// Launch starts the browser and connects to it. The process outlives ctx and
// is stopped by Browser.Close.
func (l *Launcher) Launch(ctx context.Context, opts driver.LaunchOptions) (driver.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lc := launcher.New().Headless(opts.Headless).Devtools(opts.Devtools)
	if opts.BrowserPath != "" {
		lc = lc.Bin(opts.BrowserPath)
	}
	for name, values := range Flags(opts) {
		lc = lc.Set(name, values...)
	}
	if opts.ExtensionDir != "" {
		// The recorder extension must survive rod's default switches.
		lc = lc.Delete("disable-extensions")
	}

	controlURL, err := lc.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	l.log.Infow("chromium started", "controlURL", controlURL, "headless", opts.Headless)

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		lc.Kill()
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}

	return &Browser{
		browser:  b,
		launcher: lc,
		opts:     opts,
		log:      l.log,
	}, nil
}

// wrapErr maps errors from a closed browser or target to ErrBrowserClosed.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, hint := range []string{"use of closed network connection", "Target closed", "websocket: close", "No target with given id"} {
		if strings.Contains(msg, hint) {
			return core.ErrBrowserClosed.WithCause(err)
		}
	}
	return err
}
