package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const starterTemplate = `trunk: main
remote: origin
branch_prefix: wave/
session:
  base_url: http://127.0.0.1:7681
  token_file: ~/.config/session-host/token
  prefix: wave-
gates:
  baseline: [review]
  direct: [review]
  timeout: 15m
  poll_interval: 5s
monitor:
  warning_percent: 70
  critical_percent: 90
`

// WriteStarter writes a starter config file. An existing file is kept
// unless force is set.
func WriteStarter(repoRoot string, force bool) error {
	path := filepath.Join(repoRoot, RelPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory for %s: %w", RelPath, err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_EXCL
	if force {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if os.IsExist(err) && !force {
			return fmt.Errorf("config file at %s already exists; rerun with --force to overwrite: %w", RelPath, os.ErrExist)
		}
		return fmt.Errorf("cannot write config file at %s: %w", RelPath, err)
	}
	defer func() {
		_ = file.Close()
	}()
	if _, err := file.WriteString(starterTemplate); err != nil {
		return fmt.Errorf("cannot write config file at %s: %w", RelPath, err)
	}
	return nil
}
