// Package service registers the gateway as a login service, so the
// assistant is listening as soon as the user's session starts. Linux uses a
// systemd user unit, macOS a launchd agent.
package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	BackendSystemd = "systemd"
	BackendLaunchd = "launchd"
)

type Status struct {
	Backend   string
	Installed bool
	Enabled   bool
	Running   bool
	Detail    string
}

type Manager interface {
	Backend() string
	Install() error
	Uninstall() error
	Start() error
	Stop() error
	Status() (Status, error)
	Logs(lines int) (string, error)
}

type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NewManager returns the platform manager for the current OS.
func NewManager(exePath string) (Manager, error) {
	return newPlatformManager(exePath, execRunner{})
}

func runCommand(runner commandRunner, timeout time.Duration, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return runner.Run(ctx, name, args...)
}

func oneLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return s
}

// buildServicePath merges the current PATH with the baseline system
// directories, deduplicated and order preserving.
func buildServicePath(currentPath string) string {
	sep := string(os.PathListSeparator)
	baseline := []string{"/usr/local/bin", "/usr/bin", "/bin", "/usr/sbin", "/sbin"}

	var parts []string
	seen := map[string]struct{}{}
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" {
			return
		}
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		parts = append(parts, p)
	}
	for _, p := range strings.Split(currentPath, sep) {
		add(p)
	}
	for _, p := range baseline {
		add(p)
	}
	return strings.Join(parts, sep)
}

func renderSystemdUnit(exePath, pathEnv string) string {
	return fmt.Sprintf(`[Unit]
Description=deskmate gateway
After=network.target

[Service]
Type=simple
ExecStart=%s gateway
Restart=always
RestartSec=3
Environment=PATH=%s

[Install]
WantedBy=default.target
`, exePath, pathEnv)
}

func renderLaunchdPlist(label, exePath, stdoutPath, stderrPath, pathEnv string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>%s</string>
	<key>ProgramArguments</key>
	<array>
		<string>%s</string>
		<string>gateway</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>StandardOutPath</key>
	<string>%s</string>
	<key>StandardErrorPath</key>
	<string>%s</string>
	<key>EnvironmentVariables</key>
	<dict>
		<key>PATH</key>
		<string>%s</string>
	</dict>
</dict>
</plist>
`, label, exePath, stdoutPath, stderrPath, pathEnv)
}

func tailFileLines(path string, lines int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if lines <= 0 {
		lines = 50
	}
	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, "\n"), nil
}

func combineLogSections(sections map[string]string) string {
	var b strings.Builder
	for path, content := range sections {
		if strings.TrimSpace(content) == "" {
			continue
		}
		fmt.Fprintf(&b, "== %s ==\n%s\n", path, content)
	}
	return b.String()
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".deskmate"
	}
	return filepath.Join(home, ".deskmate")
}
