package artifacts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Kind selects what an Artifact captures.
type Kind string

const (
	KindVideo      Kind = "video"
	KindScreenshot Kind = "screenshot"
)

// State of an Artifact.
type State int

const (
	Created State = iota
	Started
	Stopped
	Saved
	Discarded
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	case Saved:
		return "saved"
	case Discarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Artifact is one capture: Start, Stop, then Save or Discard.
type Artifact struct {
	kind     Kind
	plugin   Plugin
	deviceID string

	mu    sync.Mutex
	state State
	temp  string
}

// NewArtifact creates an artifact of kind captured through plugin.
func NewArtifact(kind Kind, plugin Plugin, deviceID string) *Artifact {
	return &Artifact{kind: kind, plugin: plugin, deviceID: deviceID}
}

// State returns the lifecycle state.
func (a *Artifact) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Path returns the captured file, empty until Stop succeeds.
func (a *Artifact) Path() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.temp
}

func (a *Artifact) expect(want State, op string) error {
	if a.state != want {
		return fmt.Errorf("%s %s artifact: state is %s, want %s", op, a.kind, a.state, want)
	}
	return nil
}

// Start begins capturing. Screenshots capture nothing until Stop.
func (a *Artifact) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.expect(Created, "start"); err != nil {
		return err
	}
	if a.kind == KindVideo {
		if err := a.plugin.RecordVideo(ctx, a.deviceID); err != nil {
			return err
		}
	}
	a.state = Started
	return nil
}

// Stop finishes the capture and records the temporary file.
func (a *Artifact) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.expect(Started, "stop"); err != nil {
		return err
	}
	var (
		path string
		err  error
	)
	if a.kind == KindVideo {
		path, err = a.plugin.StopVideo(ctx, a.deviceID)
	} else {
		path, err = a.plugin.TakeScreenshot(ctx, a.deviceID)
	}
	if err != nil {
		return err
	}
	a.temp = path
	a.state = Stopped
	return nil
}

// Save moves the captured file to dest, creating parent directories.
func (a *Artifact) Save(dest string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.expect(Stopped, "save"); err != nil {
		return err
	}
	if a.temp == "" {
		a.state = Saved
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := move(a.temp, dest); err != nil {
		return fmt.Errorf("save %s artifact: %w", a.kind, err)
	}
	a.temp = dest
	a.state = Saved
	return nil
}

// Discard removes the captured file.
func (a *Artifact) Discard() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Saved || a.state == Discarded {
		return a.expect(Stopped, "discard")
	}
	if a.temp != "" {
		if err := os.Remove(a.temp); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	a.temp = ""
	a.state = Discarded
	return nil
}

// move renames src to dst, copying when they live on different filesystems.
func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		in.Close()
		return err
	}
	_, err = io.Copy(out, in)
	in.Close()
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Remove(src)
}
