package chrome

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/devicelab-dev/web-testee/pkg/driver"
)

// permissionTypes maps capability names to CDP permission types where the
// two differ.
var permissionTypes = map[string]proto.BrowserPermissionType{
	"camera":     proto.BrowserPermissionTypeVideoCapture,
	"microphone": proto.BrowserPermissionTypeAudioCapture,
}

// PermissionType converts a capability name to its CDP permission type.
func PermissionType(name string) proto.BrowserPermissionType {
	if t, ok := permissionTypes[name]; ok {
		return t
	}
	return proto.BrowserPermissionType(name)
}

// Browser wraps a connected rod browser and the process that backs it.
type Browser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	opts     driver.LaunchOptions
	log      *zap.SugaredLogger

	mu    sync.Mutex
	pages map[proto.TargetTargetID]*Page
}

// Page returns the first open tab, creating one if none exists. A tab seen
// for the first time gets the default viewport and, when enabled, the timer
// tracking shim.
func (b *Browser) Page(ctx context.Context) (driver.Page, error) {
	bc := b.browser.Context(ctx)
	pages, err := bc.Pages()
	if err != nil {
		return nil, wrapErr(fmt.Errorf("list pages: %w", err))
	}

	var rp *rod.Page
	if len(pages) > 0 {
		rp = pages.First()
	} else {
		rp, err = bc.Page(proto.TargetCreateTarget{})
		if err != nil {
			return nil, wrapErr(fmt.Errorf("create page: %w", err))
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pages[rp.TargetID]; ok {
		return p, nil
	}

	p := &Page{page: rp, log: b.log}
	if b.opts.Viewport.Width > 0 && b.opts.Viewport.Height > 0 {
		if err := p.SetViewport(ctx, b.opts.Viewport); err != nil {
			return nil, err
		}
	}
	if b.opts.TrackTimers {
		if _, err := rp.Context(ctx).EvalOnNewDocument(timerShim); err != nil {
			return nil, wrapErr(fmt.Errorf("install timer shim: %w", err))
		}
	}
	if b.pages == nil {
		b.pages = make(map[proto.TargetTargetID]*Page)
	}
	b.pages[rp.TargetID] = p
	return p, nil
}

// GrantPermissions replaces the permission overrides for origin.
func (b *Browser) GrantPermissions(ctx context.Context, origin string, permissions []string) error {
	types := make([]proto.BrowserPermissionType, 0, len(permissions))
	for _, name := range permissions {
		types = append(types, PermissionType(name))
	}
	err := proto.BrowserGrantPermissions{Permissions: types, Origin: origin}.Call(b.browser.Context(ctx))
	if err != nil {
		return wrapErr(fmt.Errorf("grant permissions for %s: %w", origin, err))
	}
	b.log.Debugw("permissions granted", "origin", origin, "permissions", permissions)
	return nil
}

// ResetPermissions clears every permission override.
func (b *Browser) ResetPermissions(ctx context.Context) error {
	if err := (proto.BrowserResetPermissions{}).Call(b.browser.Context(ctx)); err != nil {
		return wrapErr(fmt.Errorf("reset permissions: %w", err))
	}
	return nil
}

// Close shuts the browser down and removes its profile directory.
func (b *Browser) Close() error {
	err := b.browser.Close()
	b.launcher.Cleanup()
	b.mu.Lock()
	b.pages = nil
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	b.log.Infow("chromium closed")
	return nil
}
