package utils

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/charmbracelet/log"
)

const appDirName = "omnisuggest"

// PathResolver finds where config and state files live for the current user.
type PathResolver struct {
	homeDir   string
	configDir string
	stateDir  string
}

// NewPathResolver creates a resolver for the platform's config and state dirs
func NewPathResolver() *PathResolver {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Warnf("Could not determine home directory: %v", err)
		homeDir = os.TempDir()
	}

	pr := &PathResolver{
		homeDir:   homeDir,
		configDir: getConfigDir(homeDir),
		stateDir:  getStateDir(homeDir),
	}
	log.Debugf("PathResolver initialized: configDir=%s, stateDir=%s", pr.configDir, pr.stateDir)
	return pr
}

// getConfigDir returns the appropriate config directory for the platform
func getConfigDir(homeDir string) string {
	switch runtime.GOOS {
	case "linux":
		if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
			return filepath.Join(configHome, appDirName)
		}
		return filepath.Join(homeDir, ".config", appDirName)
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appDirName)
		}
		return filepath.Join(homeDir, "AppData", "Roaming", appDirName)
	default:
		return filepath.Join(homeDir, ".config", appDirName)
	}
}

func getStateDir(homeDir string) string {
	if runtime.GOOS == "linux" {
		if stateHome := os.Getenv("XDG_STATE_HOME"); stateHome != "" {
			return filepath.Join(stateHome, appDirName)
		}
		return filepath.Join(homeDir, ".local", "state", appDirName)
	}
	return getConfigDir(homeDir)
}

// ConfigPath returns the full path for a config file, falling back to
// the temp dir when the config dir cannot be written.
func (pr *PathResolver) ConfigPath(filename string) string {
	return pr.resolve(pr.configDir, filename)
}

// StatePath returns the full path for a state file (history snapshots, engine lists).
func (pr *PathResolver) StatePath(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	return pr.resolve(pr.stateDir, filename)
}

func (pr *PathResolver) resolve(dir, filename string) string {
	if ensureWritableDir(dir) {
		return filepath.Join(dir, filename)
	}
	fallback := filepath.Join(os.TempDir(), appDirName)
	if ensureWritableDir(fallback) {
		path := filepath.Join(fallback, filename)
		log.Warnf("Using fallback location: %s", path)
		return path
	}
	return filepath.Join(os.TempDir(), filename)
}

// ensureWritableDir creates the directory if it doesn't exist and tests writability
func ensureWritableDir(dir string) bool {
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Debugf("Cannot create directory %s: %v", dir, err)
		return false
	}
	testFile := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		log.Debugf("Directory %s is not writable: %v", dir, err)
		return false
	}
	os.Remove(testFile)
	return true
}
