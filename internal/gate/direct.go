package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type CommandRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

type DiffSource interface {
	BranchDiff(ctx context.Context, base string, head string) (string, error)
}

// DirectVerifier runs a non-interactive reviewer against the worktree diff
// and writes the artifact itself before returning.
//
// Command arguments may reference {diff} (path of the saved diff), {base}
// and {worktree}.
type DirectVerifier struct {
	Runner  CommandRunner
	Diffs   func(worktree string) DiffSource
	Command []string
	Now     func() time.Time
}

func (v *DirectVerifier) Spawn(ctx context.Context, request Request) (Pending, error) {
	if v.Runner == nil || len(v.Command) == 0 {
		return Pending{}, errors.New("direct verifier has no command configured")
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}

	diff := ""
	if v.Diffs != nil && request.Base != "" {
		var err error
		diff, err = v.Diffs(request.Worktree).BranchDiff(ctx, request.Base, "HEAD")
		if err != nil {
			return Pending{}, fmt.Errorf("diff %s against %s: %w", request.ItemID, request.Base, err)
		}
		if strings.TrimSpace(diff) == "" {
			return Pending{}, WriteArtifact(request.ArtifactPath, Artifact{
				Checkpoint: request.Gate,
				Type:       request.Gate,
				Timestamp:  now().UTC().Format(time.RFC3339),
				Passed:     true,
				Summary:    "no changes against " + request.Base,
			})
		}
	}

	diffPath := strings.TrimSuffix(request.ArtifactPath, filepath.Ext(request.ArtifactPath)) + ".diff"
	if err := os.MkdirAll(filepath.Dir(diffPath), 0o755); err != nil {
		return Pending{}, err
	}
	if err := os.WriteFile(diffPath, []byte(diff), 0o644); err != nil {
		return Pending{}, fmt.Errorf("save diff: %w", err)
	}

	args := make([]string, len(v.Command))
	replacer := strings.NewReplacer("{diff}", diffPath, "{base}", request.Base, "{worktree}", request.Worktree)
	for i, arg := range v.Command {
		args[i] = replacer.Replace(arg)
	}

	output, runErr := v.Runner.Run(ctx, request.Worktree, args...)
	if ctx.Err() != nil {
		return Pending{}, ctx.Err()
	}
	verdict := ParseVerdict(output)
	artifact := Artifact{
		Checkpoint: request.Gate,
		Type:       request.Gate,
		Timestamp:  now().UTC().Format(time.RFC3339),
		Passed:     verdict.Passed && runErr == nil,
		Summary:    verdict.Summary,
	}
	for _, issue := range verdict.Issues {
		artifact.Issues = append(artifact.Issues, Issue{Message: issue})
	}
	if runErr != nil && verdict.Passed {
		artifact.Summary = "reviewer exited with error: " + runErr.Error()
	}
	return Pending{}, WriteArtifact(request.ArtifactPath, artifact)
}
