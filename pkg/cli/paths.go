package cli

import (
	"os"
	"path/filepath"
)

// DefaultConfigFile is the default configuration filename
const DefaultConfigFile = "config.yaml"

// Paths locates the per-user directories of an app
type Paths struct {
	// AppName is the application name
	AppName string

	// ConfigRoot is the user's configuration directory
	ConfigRoot string

	// CacheRoot is the user's cache directory
	CacheRoot string
}

// NewPaths creates a new Paths instance for the given app
func NewPaths(appName string) (*Paths, error) {
	cfg, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		return nil, err
	}
	return &Paths{AppName: appName, ConfigRoot: cfg, CacheRoot: cache}, nil
}

// AppDir returns the app configuration directory (<config>/<app>)
func (p *Paths) AppDir() string {
	return filepath.Join(p.ConfigRoot, p.AppName)
}

// ConfigFile returns the config file path (<config>/<app>/config.yaml)
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.AppDir(), DefaultConfigFile)
}

// CacheDir returns the cache directory (<cache>/<app>)
func (p *Paths) CacheDir() string {
	return filepath.Join(p.CacheRoot, p.AppName)
}

// LockDir returns the directory of conversation lock files
func (p *Paths) LockDir() string {
	return filepath.Join(p.CacheDir(), "locks")
}

// DataDir returns the data directory (<config>/<app>/data)
func (p *Paths) DataDir() string {
	return filepath.Join(p.AppDir(), "data")
}

// DataPath returns a path within the data directory
func (p *Paths) DataPath(name string) string {
	return filepath.Join(p.DataDir(), name)
}

// EnsureAppDir creates the app directory if it doesn't exist
func (p *Paths) EnsureAppDir() error {
	return os.MkdirAll(p.AppDir(), 0755)
}
