package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultTokenFile is where the session host writes its bearer token.
func DefaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "session-host", "token")
}

// LoadToken reads and trims the token. A missing file yields an empty token
// so unauthenticated local hosts keep working.
func LoadToken(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session token: %w", err)
	}
	return strings.TrimSpace(string(content)), nil
}
