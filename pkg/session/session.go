// Package session holds the state one test run owns: the browser, its page
// and the settings applied to them.
package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/devicelab-dev/web-testee/pkg/core"
	"github.com/devicelab-dev/web-testee/pkg/driver"
)

// Session is safe for concurrent use.
type Session struct {
	id string

	mu          sync.Mutex
	browser     driver.Browser
	page        driver.Page
	url         string
	permissions map[string]string
	recording   bool
}

// New creates a session. An empty id gets a random one.
func New(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{id: id, permissions: make(map[string]string)}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Attach installs a browser and its page. Element handles from the previous
// page are invalid from here on.
func (s *Session) Attach(b driver.Browser, p driver.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.browser = b
	s.page = p
}

// Browser returns the running browser or ErrBrowserClosed.
func (s *Session) Browser() (driver.Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser == nil {
		return nil, core.ErrBrowserClosed
	}
	return s.browser, nil
}

// Page returns the current page or ErrBrowserClosed.
func (s *Session) Page() (driver.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return nil, core.ErrBrowserClosed
	}
	return s.page, nil
}

// Running reports whether a browser is attached.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browser != nil
}

// SetURL records the last URL the app was opened at.
func (s *Session) SetURL(url string) {
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
}

// URL returns the last URL the app was opened at.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// SetPermissions merges requested permission values.
func (s *Session) SetPermissions(perms map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range perms {
		s.permissions[k] = v
	}
}

// Permissions returns a copy of the requested permissions.
func (s *Session) Permissions() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.permissions))
	for k, v := range s.permissions {
		out[k] = v
	}
	return out
}

// SetRecording marks whether a video recording is active.
func (s *Session) SetRecording(on bool) {
	s.mu.Lock()
	s.recording = on
	s.mu.Unlock()
}

// Recording reports whether a video recording is active.
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Teardown closes the browser and drops all handles. Safe to call twice.
func (s *Session) Teardown() error {
	s.mu.Lock()
	b := s.browser
	s.browser = nil
	s.page = nil
	s.recording = false
	s.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Close()
}
