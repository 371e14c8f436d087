package hook

import (
	"fmt"
	"os"
	"path/filepath"
)

// Script is the pre-commit hook copied into each worktree. It hands the
// decision to yolo-wave-hook and lets the commit through when the binary is
// not installed.
const Script = `#!/bin/sh
command -v yolo-wave-hook >/dev/null 2>&1 || exit 0
exec yolo-wave-hook --worktree "$(git rev-parse --show-toplevel)"
`

// WriteTemplate writes Script to path unless a file is already there. It
// reports whether it wrote anything.
func WriteTemplate(path string, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create hook template directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(Script), 0o755); err != nil {
		return false, fmt.Errorf("write hook template: %w", err)
	}
	return true, nil
}
