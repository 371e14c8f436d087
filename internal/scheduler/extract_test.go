package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractFiles(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		contains []string
		absent   []string
	}{
		{
			name:     "direct paths",
			text:     "Update internal/gate/runner.go and ./docs/GATES.md, see e.g. notes",
			contains: []string{"internal/gate/runner.go", "docs/GATES.md"},
			absent:   []string{"e.g"},
		},
		{
			name:     "capitalized run drops leading verb",
			text:     "Fix Login Form validation",
			contains: []string{"LoginForm.tsx", "LoginForm.go"},
			absent:   []string{"FixLoginForm.tsx"},
		},
		{
			name:     "camel case token",
			text:     "the CheckoutButton misaligns",
			contains: []string{"CheckoutButton.vue"},
		},
		{
			name:     "component phrasing",
			text:     "rework the settings page and the nav-bar component",
			contains: []string{"Settings.tsx", "NavBar.tsx"},
			absent:   []string{"The.tsx"},
		},
		{
			name: "plain prose",
			text: "improve error messages",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractFiles(tc.text)
			for _, want := range tc.contains {
				assert.Contains(t, got, want)
			}
			for _, unwanted := range tc.absent {
				assert.NotContains(t, got, unwanted)
			}
			if len(tc.contains) == 0 {
				assert.Empty(t, got)
			}
		})
	}
}
