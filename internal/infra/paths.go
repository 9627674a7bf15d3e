package infra

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
)

// AppName names per-user directories and files.
const AppName = "camelpad"

// LaunchdLabel is the LaunchAgent label.
const LaunchdLabel = "com.camelpad.bridge"

// Paths holds the per-user locations the daemon reads and writes.
type Paths struct {
	DataDir   string // PID file and other runtime state
	LogDir    string
	LogFile   string
	PIDFile   string
	PlistDir  string // macOS only
	PlistPath string // macOS only
}

// DetectPaths returns the locations for the current user and OS.
func DetectPaths() *Paths {
	return pathsFor(runtime.GOOS, GetRealUserHome(), os.Getenv("LOCALAPPDATA"), os.Getenv("XDG_STATE_HOME"))
}

func pathsFor(goos, home, localAppData, xdgState string) *Paths {
	p := &Paths{}
	switch goos {
	case "darwin":
		p.DataDir = filepath.Join(home, "Library", "Application Support", AppName)
		p.LogDir = filepath.Join(home, "Library", "Logs", AppName)
		p.PlistDir = filepath.Join(home, "Library", "LaunchAgents")
		p.PlistPath = filepath.Join(p.PlistDir, LaunchdLabel+".plist")
	case "windows":
		if localAppData == "" {
			localAppData = filepath.Join(home, "AppData", "Local")
		}
		p.DataDir = filepath.Join(localAppData, AppName)
		p.LogDir = filepath.Join(p.DataDir, "logs")
	default:
		if xdgState == "" {
			xdgState = filepath.Join(home, ".local", "state")
		}
		p.DataDir = filepath.Join(xdgState, AppName)
		p.LogDir = p.DataDir
	}
	p.LogFile = filepath.Join(p.LogDir, AppName+".log")
	p.PIDFile = filepath.Join(p.DataDir, AppName+".pid")
	return p
}

// EnsureDirs creates the data and log directories.
func (p *Paths) EnsureDirs() error {
	if err := os.MkdirAll(p.DataDir, 0o700); err != nil {
		return err
	}
	return os.MkdirAll(p.LogDir, 0o700)
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns root's home, so we use SUDO_USER to find the real user.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
