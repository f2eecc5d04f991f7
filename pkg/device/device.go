// Package device manages the browser that stands in for a mobile device:
// launching and closing it, opening the app URL and applying the device
// level settings (orientation, location, permissions, synchronization).
package device

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/devicelab-dev/web-testee/pkg/core"
	"github.com/devicelab-dev/web-testee/pkg/driver"
	"github.com/devicelab-dev/web-testee/pkg/logger"
	"github.com/devicelab-dev/web-testee/pkg/session"
	"github.com/devicelab-dev/web-testee/pkg/settle"
)

// Platform is reported by GetPlatform.
const Platform = "web"

// DefaultHomeURL is opened by SendToHome.
const DefaultHomeURL = "about:blank"

// Orientations accepted by SetOrientation.
const (
	Portrait  = "portrait"
	Landscape = "landscape"
)

// permissionLookup maps device capabilities to browser permission names.
// Capabilities without a browser equivalent are dropped.
var permissionLookup = map[string]string{
	"camera":        "camera",
	"location":      "geolocation",
	"microphone":    "microphone",
	"notifications": "notifications",
}

// deniedValues are permission values that request nothing.
var deniedValues = map[string]bool{"NO": true, "unset": true, "never": true, "": true}

// Options configures launches.
type Options struct {
	Headless     bool
	Devtools     bool
	BrowserPath  string
	Viewport     driver.Viewport
	ExtensionDir string
	TrackTimers  bool

	// BinaryPath is the app URL in "/<url>" form.
	BinaryPath string
	// HomeURL is opened by SendToHome. Default about:blank.
	HomeURL string
}

// LaunchArgs are per-launch overrides sent by the runner.
type LaunchArgs struct {
	URLOverride string           `json:"detoxURLOverride,omitempty"`
	Viewport    *driver.Viewport `json:"viewport,omitempty"`
}

// VideoStopper finishes an active recording before the browser closes.
type VideoStopper interface {
	StopVideo(ctx context.Context, deviceID string) (string, error)
}

// Device drives one browser session.
type Device struct {
	launcher driver.Launcher
	sess     *session.Session
	engine   *settle.Engine
	opts     Options
	recorder VideoStopper
	log      *zap.SugaredLogger
}

// New creates a Device. The engine is re-attached to every page the device opens.
func New(launcher driver.Launcher, sess *session.Session, engine *settle.Engine, opts Options) *Device {
	if opts.HomeURL == "" {
		opts.HomeURL = DefaultHomeURL
	}
	if opts.Viewport.Width == 0 || opts.Viewport.Height == 0 {
		opts.Viewport = driver.Viewport{Width: 1280, Height: 720}
	}
	return &Device{
		launcher: launcher,
		sess:     sess,
		engine:   engine,
		opts:     opts,
		log:      logger.Named("device"),
	}
}

// SetRecorder installs the recorder stopped by Terminate.
func (d *Device) SetRecorder(r VideoStopper) { d.recorder = r }

// Session returns the session the device operates on.
func (d *Device) Session() *session.Session { return d.sess }

// GetPlatform returns "web".
func (d *Device) GetPlatform() string { return Platform }

// AppURL returns the app URL derived from the binary path.
func (d *Device) AppURL() string {
	return strings.TrimPrefix(d.opts.BinaryPath, "/")
}

// LaunchApp starts the browser if it is not running, applies the requested
// permissions and opens the app URL. A running browser is reused.
func (d *Device) LaunchApp(ctx context.Context, args LaunchArgs) error {
	d.log.Infow("launch app", "running", d.sess.Running(), "urlOverride", args.URLOverride)

	b, err := d.sess.Browser()
	if err != nil {
		vp := d.opts.Viewport
		if args.Viewport != nil {
			vp = *args.Viewport
		}
		b, err = d.launcher.Launch(ctx, driver.LaunchOptions{
			Headless:     d.opts.Headless,
			Devtools:     d.opts.Devtools,
			BrowserPath:  d.opts.BrowserPath,
			Viewport:     vp,
			ExtensionDir: d.opts.ExtensionDir,
			TrackTimers:  d.opts.TrackTimers,
		})
		if err != nil {
			return core.ErrBrowserClosed.WithMessage("launch browser").WithCause(err)
		}
		page, err := b.Page(ctx)
		if err != nil {
			_ = b.Close()
			return core.ErrBrowserClosed.WithMessage("open page").WithCause(err)
		}
		d.sess.Attach(b, page)
	}

	target := args.URLOverride
	if target == "" {
		target = d.AppURL()
	}

	origin := originOf(target)
	if origin == "" {
		if page, err := d.sess.Page(); err == nil {
			if cur, err := page.URL(ctx); err == nil {
				origin = originOf(cur)
			}
		}
	}
	if err := d.applyPermissions(ctx, b, origin); err != nil {
		d.log.Warnw("apply permissions failed", "origin", origin, "error", err)
	}

	if target == "" {
		return d.attach(ctx)
	}
	return d.Open(ctx, target)
}

// Open navigates the current page to target and waits for the network to
// go quiet. The engine is attached before navigating so the page's own
// requests are tracked.
func (d *Device) Open(ctx context.Context, target string) error {
	page, err := d.sess.Page()
	if err != nil {
		return err
	}
	if err := d.attach(ctx); err != nil {
		return err
	}
	if err := page.Navigate(ctx, target); err != nil {
		return fmt.Errorf("navigate to %s: %w", target, err)
	}
	d.sess.SetURL(target)
	if d.engine.Enabled() {
		if err := d.engine.Network().Settle(ctx); err != nil {
			return fmt.Errorf("wait for network idle after %s: %w", target, err)
		}
	}
	return nil
}

func (d *Device) attach(ctx context.Context) error {
	page, err := d.sess.Page()
	if err != nil {
		return err
	}
	return d.engine.Attach(ctx, page)
}

// Terminate closes the browser. Safe to call when nothing is running.
func (d *Device) Terminate(ctx context.Context) error {
	d.log.Infow("terminate", "running", d.sess.Running())
	if d.recorder != nil && d.sess.Recording() {
		if _, err := d.recorder.StopVideo(ctx, d.sess.ID()); err != nil {
			d.log.Warnw("stop video before terminate failed", "error", err)
		}
	}
	d.engine.Detach()
	if err := d.sess.Teardown(); err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// Cleanup releases the browser at the end of a run.
func (d *Device) Cleanup(ctx context.Context) error {
	return d.Terminate(ctx)
}

// ReloadApp opens the app again at the URL it was last opened at, or the
// app URL when it has not been opened yet.
func (d *Device) ReloadApp(ctx context.Context) error {
	target := d.sess.URL()
	if target == "" {
		target = d.AppURL()
	}
	if target == "" {
		return nil
	}
	return d.Open(ctx, target)
}

// SendToHome leaves the app by opening the home URL.
func (d *Device) SendToHome(ctx context.Context) error {
	page, err := d.sess.Page()
	if err != nil {
		return err
	}
	if err := page.Navigate(ctx, d.opts.HomeURL); err != nil {
		return fmt.Errorf("navigate to %s: %w", d.opts.HomeURL, err)
	}
	return nil
}

// SetOrientation swaps the viewport so the longer side is vertical
// (portrait) or horizontal (landscape).
func (d *Device) SetOrientation(ctx context.Context, orientation string) error {
	if orientation != Portrait && orientation != Landscape {
		return core.ErrActionNotPerformed.WithMessagef("unknown orientation %q", orientation)
	}
	page, err := d.sess.Page()
	if err != nil {
		return err
	}
	vp, err := page.Viewport(ctx)
	if err != nil {
		return fmt.Errorf("read viewport: %w", err)
	}
	large, small := vp.Width, vp.Height
	if small > large {
		large, small = small, large
	}
	next := driver.Viewport{Width: small, Height: large}
	if orientation == Landscape {
		next = driver.Viewport{Width: large, Height: small}
	}
	d.log.Debugw("set orientation", "orientation", orientation, "viewport", next)
	return page.SetViewport(ctx, next)
}

// SetLocation overrides the page geolocation.
func (d *Device) SetLocation(ctx context.Context, lat, lon float64) error {
	page, err := d.sess.Page()
	if err != nil {
		return err
	}
	return page.SetGeolocation(ctx, lat, lon)
}

// SetPermissions records the requested capabilities. They are applied on the
// next launch, and immediately when a page is open.
func (d *Device) SetPermissions(ctx context.Context, perms map[string]string) error {
	d.sess.SetPermissions(perms)
	b, err := d.sess.Browser()
	if err != nil {
		return nil
	}
	page, err := d.sess.Page()
	if err != nil {
		return nil
	}
	cur, err := page.URL(ctx)
	if err != nil {
		return fmt.Errorf("read page url: %w", err)
	}
	return d.applyPermissions(ctx, b, originOf(cur))
}

func (d *Device) applyPermissions(ctx context.Context, b driver.Browser, origin string) error {
	granted := BrowserPermissions(d.sess.Permissions())
	if err := b.ResetPermissions(ctx); err != nil {
		return err
	}
	if len(granted) == 0 || origin == "" {
		return nil
	}
	d.log.Debugw("grant permissions", "origin", origin, "permissions", granted)
	return b.GrantPermissions(ctx, origin, granted)
}

// BrowserPermissions maps capability values to the sorted list of browser
// permissions to grant.
func BrowserPermissions(perms map[string]string) []string {
	var out []string
	for k, v := range perms {
		if deniedValues[v] {
			continue
		}
		if p, ok := permissionLookup[k]; ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// SetURLBlacklist replaces the patterns excluded from network synchronization.
func (d *Device) SetURLBlacklist(patterns []string) error {
	if err := d.engine.SetBlacklist(patterns); err != nil {
		return err
	}
	return nil
}

// EnableSynchronization turns idle gating on.
func (d *Device) EnableSynchronization() { d.engine.SetEnabled(true) }

// DisableSynchronization turns idle gating off.
func (d *Device) DisableSynchronization() { d.engine.SetEnabled(false) }

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
