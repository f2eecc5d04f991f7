// Package mock provides an in-memory browser for testing without Chromium.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/devicelab-dev/web-testee/pkg/driver"
)

// ErrClosed is returned by every operation on a closed mock browser.
var ErrClosed = errors.New("mock: browser closed")

// Config configures mock browser behavior.
type Config struct {
	// Viewport of new pages. Default 1280x720.
	Viewport driver.Viewport
	// LaunchErr makes Launch fail.
	LaunchErr error
}

// Launcher creates mock browsers and records launches.
type Launcher struct {
	Config Config

	mu       sync.Mutex
	launches []driver.LaunchOptions
	last     *Browser
}

// NewLauncher creates a new mock launcher.
func NewLauncher(cfg Config) *Launcher {
	if cfg.Viewport.Width == 0 {
		cfg.Viewport = driver.Viewport{Width: 1280, Height: 720}
	}
	return &Launcher{Config: cfg}
}

// Launch returns a fresh mock browser.
func (l *Launcher) Launch(_ context.Context, opts driver.LaunchOptions) (driver.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Config.LaunchErr != nil {
		return nil, l.Config.LaunchErr
	}
	l.launches = append(l.launches, opts)
	vp := opts.Viewport
	if vp.Width == 0 {
		vp = l.Config.Viewport
	}
	l.last = NewBrowser(NewPage(vp))
	return l.last, nil
}

// Launches returns the options of every launch so far.
func (l *Launcher) Launches() []driver.LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]driver.LaunchOptions(nil), l.launches...)
}

// Last returns the most recently launched browser.
func (l *Launcher) Last() *Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Browser is a mock implementation of driver.Browser with a single page.
type Browser struct {
	mu          sync.Mutex
	page        *Page
	closed      bool
	origin      string
	permissions []string
	resets      int
}

// NewBrowser wraps page in a mock browser.
func NewBrowser(page *Page) *Browser {
	return &Browser{page: page}
}

// Page returns the browser's only page.
func (b *Browser) Page(_ context.Context) (driver.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return b.page, nil
}

// MockPage returns the concrete page for assertions.
func (b *Browser) MockPage() *Page { return b.page }

// GrantPermissions records the override.
func (b *Browser) GrantPermissions(_ context.Context, origin string, permissions []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.origin = origin
	b.permissions = append([]string(nil), permissions...)
	return nil
}

// ResetPermissions clears recorded overrides.
func (b *Browser) ResetPermissions(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.resets++
	b.origin = ""
	b.permissions = nil
	return nil
}

// Permissions returns the last granted origin and permission list.
func (b *Browser) Permissions() (string, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.origin, append([]string(nil), b.permissions...)
}

// Close marks the browser closed.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.page.setClosed()
	return nil
}

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// screenshotPNG is a minimal valid PNG (1x1 transparent pixel).
var screenshotPNG = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, // PNG signature
	0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52, // IHDR chunk
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
	0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE,
	0x42, 0x60, 0x82,
}
