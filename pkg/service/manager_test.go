package service

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderSystemdUnit(t *testing.T) {
	unit := renderSystemdUnit("/usr/local/bin/deskmate", "/usr/local/bin:/usr/bin:/bin")
	for _, want := range []string{
		"ExecStart=/usr/local/bin/deskmate gateway",
		"Restart=always",
		"Environment=PATH=/usr/local/bin:/usr/bin:/bin",
		"WantedBy=default.target",
	} {
		if !strings.Contains(unit, want) {
			t.Fatalf("unit missing %q:\n%s", want, unit)
		}
	}
}

func TestRenderLaunchdPlist(t *testing.T) {
	plist := renderLaunchdPlist("io.deskmate.gateway", "/usr/local/bin/deskmate",
		"/tmp/out.log", "/tmp/err.log", "/usr/bin:/bin")
	for _, want := range []string{
		"<string>io.deskmate.gateway</string>",
		"<string>/usr/local/bin/deskmate</string>",
		"<string>gateway</string>",
		"<string>/tmp/out.log</string>",
		"<key>RunAtLoad</key>",
	} {
		if !strings.Contains(plist, want) {
			t.Fatalf("plist missing %q:\n%s", want, plist)
		}
	}
}

func TestBuildServicePath(t *testing.T) {
	sep := string(os.PathListSeparator)
	got := buildServicePath(strings.Join([]string{"/custom/bin", "/usr/bin", "", "/custom/bin"}, sep))
	parts := strings.Split(got, sep)

	seen := map[string]struct{}{}
	for _, p := range parts {
		if _, dup := seen[p]; dup {
			t.Fatalf("duplicate path %q in %v", p, parts)
		}
		seen[p] = struct{}{}
	}
	for _, want := range []string{"/custom/bin", "/usr/bin", "/usr/local/bin", "/bin"} {
		if _, ok := seen[want]; !ok {
			t.Fatalf("path %q missing from %v", want, parts)
		}
	}
	if parts[0] != "/custom/bin" {
		t.Fatalf("installer path not first: %v", parts)
	}
}

func TestTailFileLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	content := "one\ntwo\nthree\nfour\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := tailFileLines(path, 2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if got != "three\nfour" {
		t.Fatalf("tail = %q", got)
	}
}
