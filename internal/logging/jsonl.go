package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// SummaryEntry is one line of the per-repository wave history.
type SummaryEntry struct {
	Timestamp string `json:"timestamp"`
	WaveID    string `json:"wave_id"`
	ItemID    string `json:"item_id"`
	Title     string `json:"title,omitempty"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	CommitSHA string `json:"commit_sha,omitempty"`
}

func SummaryPath(repoRoot string) string {
	return filepath.Join(repoRoot, ".yolo-wave", "logs", "wave_summary.jsonl")
}

func AppendWaveSummary(repoRoot string, entry SummaryEntry) error {
	logPath := SummaryPath(repoRoot)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return err
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05Z")
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.Write(append(payload, '\n'))
	return err
}
