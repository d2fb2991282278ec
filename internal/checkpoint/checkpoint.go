// Package checkpoint persists per-job progress snapshots used to resume
// interrupted jobs after a restart.
package checkpoint

import (
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
)

// Record is the durable progress snapshot for one job.
type Record struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	CurrentStage string `json:"current_stage"`
	ProgressPct  int    `json:"progress_pct"`
	UpdatedAt    string `json:"updated_at"`
}

// Store writes checkpoint files under <root>/<job id>/checkpoint.json.
type Store struct {
	root string
}

// NewStore returns a Store rooted at dir (normally the downloads directory).
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

// PathFor returns the canonical checkpoint path for a job id without I/O.
// The id is reduced to alphanumerics, '-' and '_' before use as a directory
// name.
func (s *Store) PathFor(jobID string) string {
	return filepath.Join(s.root, sanitizeID(jobID), "checkpoint.json")
}

// Save writes the record atomically: the JSON is written to a sibling .tmp
// file and renamed over the target, so concurrent readers observe either the
// previous snapshot or the new one, never partial bytes. Returns the
// canonical path.
func (s *Store) Save(jobID string, rec Record) (string, error) {
	path := s.PathFor(jobID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	tmp := strings.TrimSuffix(path, ".json") + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}

// Load returns the stored record, or nil when the file is absent or not
// valid JSON. A corrupt checkpoint is indistinguishable from a missing one.
func (s *Store) Load(jobID string) (*Record, error) {
	data, err := os.ReadFile(s.PathFor(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil
	}
	return &rec, nil
}

// Delete removes the checkpoint file if present.
func (s *Store) Delete(jobID string) error {
	err := os.Remove(s.PathFor(jobID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func sanitizeID(id string) string {
	var b strings.Builder
	for _, ch := range id {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
			b.WriteRune(ch)
		}
	}
	return b.String()
}
