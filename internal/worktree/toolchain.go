package worktree

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Toolchain is one dependency ecosystem detected in a directory.
type Toolchain struct {
	Dir       string
	Ecosystem string
	Command   []string
}

type marker struct {
	ecosystem string
	file      string
	command   func(dir string) []string
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var markers = []marker{
	{ecosystem: "go", file: "go.mod", command: func(string) []string { return []string{"go", "mod", "download"} }},
	{ecosystem: "node", file: "package.json", command: func(dir string) []string {
		switch {
		case exists(filepath.Join(dir, "pnpm-lock.yaml")):
			return []string{"pnpm", "install", "--frozen-lockfile"}
		case exists(filepath.Join(dir, "yarn.lock")):
			return []string{"yarn", "install", "--frozen-lockfile"}
		case exists(filepath.Join(dir, "bun.lockb")):
			return []string{"bun", "install"}
		case exists(filepath.Join(dir, "package-lock.json")):
			return []string{"npm", "ci"}
		default:
			return []string{"npm", "install"}
		}
	}},
	{ecosystem: "python", file: "pyproject.toml", command: func(dir string) []string {
		switch {
		case exists(filepath.Join(dir, "uv.lock")):
			return []string{"uv", "sync"}
		case exists(filepath.Join(dir, "poetry.lock")):
			return []string{"poetry", "install"}
		default:
			return []string{"pip", "install", "-e", "."}
		}
	}},
	{ecosystem: "python", file: "requirements.txt", command: func(string) []string { return []string{"pip", "install", "-r", "requirements.txt"} }},
	{ecosystem: "rust", file: "Cargo.toml", command: func(string) []string { return []string{"cargo", "fetch"} }},
	{ecosystem: "ruby", file: "Gemfile", command: func(string) []string { return []string{"bundle", "install"} }},
}

var skippedDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, ".yolo-wave": true, "dist": true,
	"build": true, "target": true, ".venv": true, "venv": true, "__pycache__": true,
}

const maxDetectDepth = 3

// DetectToolchains walks root up to a fixed depth and returns every
// ecosystem found, one entry per directory and ecosystem. A python project
// with both pyproject.toml and requirements.txt installs once.
func DetectToolchains(root string) ([]Toolchain, error) {
	found := []Toolchain{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if path != root {
			if skippedDirs[entry.Name()] || strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			if strings.Count(rel, string(filepath.Separator))+1 > maxDetectDepth {
				return filepath.SkipDir
			}
		}
		seen := map[string]bool{}
		for _, m := range markers {
			if seen[m.ecosystem] || !exists(filepath.Join(path, m.file)) {
				continue
			}
			seen[m.ecosystem] = true
			found = append(found, Toolchain{Dir: path, Ecosystem: m.ecosystem, Command: m.command(path)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].Dir < found[j].Dir })
	return found, nil
}
