package infra

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/eliteGoblin/camelpad/internal/domain"
)

// LaunchAgent plist template (runs as user at login)
const launchAgentTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label | xml}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath | xml}}</string>
        <string>run</string>
        <string>{{.ConfigPath | xml}}</string>
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <dict>
        <key>Crashed</key>
        <true/>
    </dict>

    <key>StandardOutPath</key>
    <string>{{.LogPath | xml}}</string>

    <key>StandardErrorPath</key>
    <string>{{.ErrorLogPath | xml}}</string>

    <key>ProcessType</key>
    <string>Interactive</string>

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>`

type plistConfig struct {
	Label          string
	ExecutablePath string
	ConfigPath     string
	LogPath        string
	ErrorLogPath   string
}

var plistTemplate = template.Must(template.New("plist").Funcs(template.FuncMap{
	"xml": xmlEscape,
}).Parse(launchAgentTemplate))

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// LaunchdManagerImpl implements domain.LaunchAgentManager.
type LaunchdManagerImpl struct {
	plistDir  string
	plistPath string
	logDir    string
	launchctl func(args ...string) error
}

// NewLaunchAgentManager creates a LaunchAgent manager for paths.
func NewLaunchAgentManager(paths *Paths) *LaunchdManagerImpl {
	return &LaunchdManagerImpl{
		plistDir:  paths.PlistDir,
		plistPath: paths.PlistPath,
		logDir:    paths.LogDir,
		launchctl: runLaunchctl,
	}
}

func runLaunchctl(args ...string) error {
	return exec.Command("launchctl", args...).Run()
}

// generatePlistContent creates plist content for the given paths.
func (m *LaunchdManagerImpl) generatePlistContent(execPath, configPath string) ([]byte, error) {
	config := plistConfig{
		Label:          LaunchdLabel,
		ExecutablePath: execPath,
		ConfigPath:     configPath,
		LogPath:        filepath.Join(m.logDir, "launchd.out.log"),
		ErrorLogPath:   filepath.Join(m.logDir, "launchd.err.log"),
	}

	var buf bytes.Buffer
	if err := plistTemplate.Execute(&buf, config); err != nil {
		return nil, fmt.Errorf("failed to execute plist template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the plist and loads it. An existing agent is replaced.
func (m *LaunchdManagerImpl) Install(execPath, configPath string) error {
	if m.plistPath == "" {
		return errors.New("launch agents are only supported on macOS")
	}
	if err := os.MkdirAll(m.plistDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(m.logDir, 0700); err != nil {
		return err
	}

	content, err := m.generatePlistContent(execPath, configPath)
	if err != nil {
		return fmt.Errorf("failed to generate plist content: %w", err)
	}

	if m.IsInstalled() {
		_ = m.launchctl("unload", m.plistPath)
	}
	if err := os.WriteFile(m.plistPath, content, 0644); err != nil {
		return err
	}

	if err := m.launchctl("load", m.plistPath); err != nil {
		return fmt.Errorf("launchctl load: %w", err)
	}
	return nil
}

// Uninstall unloads and removes the plist.
func (m *LaunchdManagerImpl) Uninstall() error {
	// Unload first (ignore errors if not loaded)
	_ = m.launchctl("unload", m.plistPath)

	if err := os.Remove(m.plistPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsInstalled checks if plist is installed.
func (m *LaunchdManagerImpl) IsInstalled() bool {
	if m.plistPath == "" {
		return false
	}
	_, err := os.Stat(m.plistPath)
	return err == nil
}

// NeedsUpdate checks if plist exists but has different content than expected.
func (m *LaunchdManagerImpl) NeedsUpdate(execPath, configPath string) bool {
	if !m.IsInstalled() {
		return false
	}
	current, err := os.ReadFile(m.plistPath)
	if err != nil {
		return true
	}
	expected, err := m.generatePlistContent(execPath, configPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// GetPlistPath returns the plist file path.
func (m *LaunchdManagerImpl) GetPlistPath() string {
	return m.plistPath
}

// Ensure LaunchdManagerImpl implements domain.LaunchAgentManager.
var _ domain.LaunchAgentManager = (*LaunchdManagerImpl)(nil)
