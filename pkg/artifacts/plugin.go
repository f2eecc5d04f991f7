// Package artifacts captures screenshots and video recordings of the page.
//
// Video is recorded by a browser extension loaded at launch. The page talks
// to it with window messages: REC_START starts a capture, SET_EXPORT_PATH
// names the file and REC_STOP saves it to the downloads directory. The
// extension marks <html> with the downloadComplete class once the file is
// written.
package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devicelab-dev/web-testee/pkg/logger"
	"github.com/devicelab-dev/web-testee/pkg/session"
)

// Recorder extension protocol.
const (
	MsgRecStart      = "REC_START"
	MsgRecStop       = "REC_STOP"
	MsgSetExportPath = "SET_EXPORT_PATH"

	DownloadCompleteSelector = "html.downloadComplete"
)

// DefaultExportTimeout bounds the wait for the recorder to write its file.
const DefaultExportTimeout = 5 * time.Second

// Plugin is the capture surface the runner drives.
type Plugin interface {
	RecordVideo(ctx context.Context, deviceID string) error
	StopVideo(ctx context.Context, deviceID string) (string, error)
	TakeScreenshot(ctx context.Context, deviceID string) (string, error)
}

// Options configures a BrowserPlugin.
type Options struct {
	// Dir receives screenshots.
	Dir string
	// DownloadsDir is where the browser saves recordings.
	DownloadsDir  string
	ExportTimeout time.Duration
}

// BrowserPlugin captures from the session's current page.
type BrowserPlugin struct {
	sess *session.Session
	opts Options
	log  *zap.SugaredLogger
}

var _ Plugin = (*BrowserPlugin)(nil)

// New creates a plugin over sess.
func New(sess *session.Session, opts Options) *BrowserPlugin {
	if opts.ExportTimeout == 0 {
		opts.ExportTimeout = DefaultExportTimeout
	}
	return &BrowserPlugin{sess: sess, opts: opts, log: logger.Named("artifacts")}
}

// RecordVideo asks the recorder extension to start capturing.
func (p *BrowserPlugin) RecordVideo(ctx context.Context, deviceID string) error {
	page, err := p.sess.Page()
	if err != nil {
		return err
	}
	p.log.Debugw("record video", "device", deviceID)
	if err := page.PostMessage(ctx, map[string]interface{}{"type": MsgRecStart}); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	p.sess.SetRecording(true)
	return nil
}

// StopVideo stops the active recording and returns the exported file path.
// Every recording is exported under a fresh name. Without an active
// recording it returns "".
func (p *BrowserPlugin) StopVideo(ctx context.Context, deviceID string) (string, error) {
	if !p.sess.Recording() {
		return "", nil
	}

	page, err := p.sess.Page()
	if err != nil {
		return "", err
	}
	name := "web-testee-" + uuid.NewString() + ".webm"
	p.log.Debugw("stop video", "device", deviceID, "export", name)

	if err := page.PostMessage(ctx, map[string]interface{}{"type": MsgSetExportPath, "filename": name}); err != nil {
		return "", fmt.Errorf("set export path: %w", err)
	}
	if err := page.PostMessage(ctx, map[string]interface{}{"type": MsgRecStop}); err != nil {
		return "", fmt.Errorf("stop recording: %w", err)
	}
	if err := page.WaitSelector(ctx, DownloadCompleteSelector, p.opts.ExportTimeout); err != nil {
		return "", fmt.Errorf("wait for recording export: %w", err)
	}
	p.sess.SetRecording(false)

	return filepath.Join(p.opts.DownloadsDir, name), nil
}

// TakeScreenshot writes a PNG of the viewport to a new file under Dir.
func (p *BrowserPlugin) TakeScreenshot(ctx context.Context, deviceID string) (string, error) {
	page, err := p.sess.Page()
	if err != nil {
		return "", err
	}
	data, err := page.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}
	if err := os.MkdirAll(p.opts.Dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(p.opts.Dir, "screenshot-*.png")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	p.log.Debugw("screenshot", "device", deviceID, "path", f.Name())
	return f.Name(), nil
}
