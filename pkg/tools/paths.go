package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathPolicy knows which directories the assistant may touch freely. File
// operations work anywhere on disk, but the orchestrator holds anything
// outside the whitelist for the user's confirmation, so Allowed is the
// question that matters. Symlinks are resolved so a link inside a root
// cannot smuggle a target outside it past the check.
type PathPolicy struct {
	roots []string
}

func NewPathPolicy(whitelist []string) *PathPolicy {
	roots := make([]string, 0, len(whitelist))
	for _, root := range whitelist {
		if abs, err := filepath.Abs(strings.TrimSpace(root)); err == nil && abs != "" {
			roots = append(roots, filepath.Clean(abs))
		}
	}
	return &PathPolicy{roots: roots}
}

// Roots returns the whitelist roots the policy enforces.
func (p *PathPolicy) Roots() []string {
	out := make([]string, len(p.roots))
	copy(out, p.roots)
	return out
}

// Resolve normalizes a user-supplied path to its absolute form. Relative
// paths are resolved against the first whitelist root.
func (p *PathPolicy) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("пустой путь")
	}
	expanded := expandHome(path)
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded), nil
	}
	if len(p.roots) == 0 {
		return "", fmt.Errorf("нет разрешённых каталогов")
	}
	return filepath.Clean(filepath.Join(p.roots[0], expanded)), nil
}

// Allowed reports whether the path stays inside the whitelist. Paths that
// cannot be resolved count as outside.
func (p *PathPolicy) Allowed(path string) bool {
	abs, err := p.Resolve(path)
	if err != nil {
		return false
	}
	if p.rootFor(abs) == "" {
		return false
	}

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return p.rootFor(filepath.Clean(resolved)) != ""
	} else if os.IsNotExist(err) {
		// The path is being created: confine it by its nearest existing
		// ancestor instead.
		if parent, err := resolveExistingAncestor(filepath.Dir(abs)); err == nil {
			return p.rootFor(parent) != ""
		}
	}
	return false
}

func (p *PathPolicy) rootFor(abs string) string {
	for _, root := range p.roots {
		if isWithin(abs, root) {
			return root
		}
	}
	return ""
}

func isWithin(candidate, root string) bool {
	rel, err := filepath.Rel(root, filepath.Clean(candidate))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), string(os.PathSeparator)))
		}
	}
	return path
}

// resolveExistingAncestor walks up until it finds a directory that exists
// and resolves its symlinks, so policy checks work for paths being created.
func resolveExistingAncestor(dir string) (string, error) {
	current := filepath.Clean(dir)
	for {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			return filepath.Clean(resolved), nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", os.ErrNotExist
		}
		current = parent
	}
}
