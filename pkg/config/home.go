package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = "WEB_TESTEE_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the web-testee home directory.
//
// Resolution order:
//  1. $WEB_TESTEE_HOME environment variable
//  2. Parent of the binary's directory (if binary is in <home>/bin/)
//  3. Current working directory (development fallback)
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetArtifactsDir returns <home>/artifacts.
func GetArtifactsDir() string {
	return filepath.Join(GetHome(), "artifacts")
}

// GetExtensionDir returns <home>/extensions/<name>.
func GetExtensionDir(name string) string {
	return filepath.Join(GetHome(), "extensions", name)
}

// GetDownloadsDir returns the user's Downloads directory, where the browser
// saves recordings.
func GetDownloadsDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, "Downloads")
	}
	return filepath.Join(GetHome(), "downloads")
}

func resolveHome() string {
	// 1. Environment variable
	if env := os.Getenv(envHome); env != "" {
		return env
	}

	// 2. Binary-relative: if binary is at <home>/bin/web-testee, use <home>
	if execPath, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
			execPath = resolved
		}
		binDir := filepath.Dir(execPath)
		if filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}

	// 3. Current working directory
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}

	return "."
}

// ResetHome resets the cached home directory (for testing).
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
