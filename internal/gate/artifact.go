package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const DefaultArtifactDir = ".yolo-wave/gates"

const artifactSchemaText = `{
  "type": "object",
  "required": ["passed"],
  "properties": {
    "checkpoint": {"type": "string"},
    "type": {"type": "string"},
    "timestamp": {"type": "string"},
    "passed": {"type": "boolean"},
    "summary": {"type": "string"},
    "issues": {
      "type": "array",
      "items": {"anyOf": [{"type": "string"}, {"type": "object"}]}
    },
    "timeout_occurred": {"type": "boolean"}
  }
}`

var artifactSchema = jsonschema.MustCompileString("gate-artifact.json", artifactSchemaText)

// ErrArtifactMissing means no result has been written yet.
var ErrArtifactMissing = errors.New("gate artifact missing")

type Issue struct {
	Severity string `json:"severity,omitempty"`
	File     string `json:"file,omitempty"`
	Message  string `json:"message"`
}

func (i *Issue) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		i.Message = text
		return nil
	}
	type plain Issue
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*i = Issue(decoded)
	return nil
}

type Artifact struct {
	Checkpoint      string  `json:"checkpoint"`
	Type            string  `json:"type,omitempty"`
	Timestamp       string  `json:"timestamp"`
	Passed          bool    `json:"passed"`
	Summary         string  `json:"summary"`
	Issues          []Issue `json:"issues,omitempty"`
	TimeoutOccurred bool    `json:"timeout_occurred,omitempty"`
}

// State maps a parsed artifact to the terminal state it proves.
func (a Artifact) State() State {
	switch {
	case a.TimeoutOccurred:
		return StateTimedOut
	case a.Passed:
		return StatePassed
	default:
		return StateFailed
	}
}

func ArtifactPath(worktree string, dir string, gateType string) string {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultArtifactDir
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(worktree, dir)
	}
	return filepath.Join(dir, gateType+".json")
}

// ReadArtifact loads and validates an artifact. A file that exists but does
// not yet carry a boolean "passed" is reported as invalid, not missing, so
// pollers can keep waiting on a partially written file.
func ReadArtifact(path string) (Artifact, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Artifact{}, ErrArtifactMissing
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("read gate artifact: %w", err)
	}
	return ParseArtifact(content)
}

func ParseArtifact(content []byte) (Artifact, error) {
	var raw any
	if err := json.Unmarshal(content, &raw); err != nil {
		return Artifact{}, fmt.Errorf("parse gate artifact: %w", err)
	}
	if err := artifactSchema.Validate(raw); err != nil {
		return Artifact{}, fmt.Errorf("invalid gate artifact: %w", err)
	}
	var artifact Artifact
	if err := json.Unmarshal(content, &artifact); err != nil {
		return Artifact{}, fmt.Errorf("decode gate artifact: %w", err)
	}
	return artifact, nil
}

// WriteArtifact creates the artifact exclusively; a second write for the
// same attempt fails with ErrAlreadyResolved.
func WriteArtifact(path string, artifact Artifact) error {
	if artifact.Timestamp == "" {
		artifact.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	encoded, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create gate artifact dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, path)
	}
	if err != nil {
		return fmt.Errorf("create gate artifact: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		_ = file.Close()
		return fmt.Errorf("write gate artifact: %w", err)
	}
	return file.Close()
}

// ArchiveArtifact moves a previous attempt's artifact aside so a fresh
// attempt can be recorded. It returns the archived path, or "" when there
// was nothing to archive.
func ArchiveArtifact(path string) (string, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	for attempt := 1; ; attempt++ {
		target := fmt.Sprintf("%s.attempt-%d", path, attempt)
		if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
			if err := os.Rename(path, target); err != nil {
				return "", fmt.Errorf("archive gate artifact: %w", err)
			}
			return target, nil
		}
	}
}
